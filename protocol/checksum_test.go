package protocol

import "testing"

func TestCalculateCRC32(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected uint32
	}{
		{
			name:     "empty data",
			data:     []byte{},
			expected: 0x00000000,
		},
		{
			name:     "check string",
			data:     []byte("123456789"),
			expected: 0xCBF43926,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CalculateCRC32(tt.data); got != tt.expected {
				t.Errorf("CalculateCRC32() = 0x%08X, want 0x%08X", got, tt.expected)
			}
		})
	}
}

func TestNewCRC32Incremental(t *testing.T) {
	h := NewCRC32()
	h.Write([]byte("1234"))
	h.Write([]byte("56789"))
	if h.Sum32() != CalculateCRC32([]byte("123456789")) {
		t.Errorf("incremental CRC = 0x%08X, want 0xCBF43926", h.Sum32())
	}
}

func TestIsErased(t *testing.T) {
	tests := []struct {
		name   string
		data   []byte
		erased byte
		want   bool
	}{
		{name: "all FF", data: []byte{0xFF, 0xFF}, erased: 0xFF, want: true},
		{name: "one programmed", data: []byte{0xFF, 0xFE}, erased: 0xFF, want: false},
		{name: "zero erased", data: []byte{0x00, 0x00}, erased: 0x00, want: true},
		{name: "empty", data: nil, erased: 0xFF, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsErased(tt.data, tt.erased); got != tt.want {
				t.Errorf("IsErased() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFirstDifference(t *testing.T) {
	tests := []struct {
		name string
		a, b []byte
		want int
	}{
		{name: "equal", a: []byte{1, 2, 3}, b: []byte{1, 2, 3}, want: -1},
		{name: "second", a: []byte{1, 2, 3}, b: []byte{1, 9, 3}, want: 1},
		{name: "prefix", a: []byte{1, 2}, b: []byte{1, 2, 3}, want: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FirstDifference(tt.a, tt.b); got != tt.want {
				t.Errorf("FirstDifference() = %d, want %d", got, tt.want)
			}
		})
	}
}
