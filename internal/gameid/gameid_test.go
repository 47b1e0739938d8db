package gameid

import (
	"strings"
	"testing"
	"time"
)

func TestGenerate(t *testing.T) {
	id := Generate()

	if len(id) != 26 {
		t.Errorf("expected 26 characters, got %d", len(id))
	}
	if err := validate(id); err != nil {
		t.Errorf("generated ID failed validation: %v", err)
	}
}

func TestGenerateUnique(t *testing.T) {
	ids := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := Generate()
		if ids[id] {
			t.Errorf("duplicate ID generated: %s", id)
		}
		ids[id] = true
	}
}

func TestGenerateTimeSorted(t *testing.T) {
	var ids []string
	for i := 0; i < 10; i++ {
		ids = append(ids, Generate())
		time.Sleep(time.Millisecond)
	}

	// UUIDv7 leads with the timestamp, so later ids sort later
	for i := 1; i < len(ids); i++ {
		if strings.Compare(ids[i-1], ids[i]) >= 0 {
			t.Errorf("IDs not sorted: %s >= %s", ids[i-1], ids[i])
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{
			// 25 characters of payload plus a trailing character whose low
			// two bits are the encoder's zero padding
			name:    "valid ID",
			id:      "01h5n0et5q6mt3v7ms1234abc0",
			wantErr: false,
		},
		{name: "too short", id: "01h5n0et5q6mt3v7ms123", wantErr: true},
		{name: "too long", id: "01h5n0et5q6mt3v7ms1234abc0ef", wantErr: true},
		{name: "trailing char carries padding bits", id: "01h5n0et5q6mt3v7ms1234abcd", wantErr: true},
		{name: "invalid character", id: "01h5n0et5q6mt3v7ms1234abci", wantErr: true},
		{name: "uppercase not allowed", id: "01H5N0ET5Q6MT3V7MS1234ABC0", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validate(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAlphabet(t *testing.T) {
	if len(alphabet) != 32 {
		t.Errorf("alphabet should have 32 characters, got %d", len(alphabet))
	}

	seen := make(map[rune]bool)
	for _, char := range alphabet {
		if seen[char] {
			t.Errorf("duplicate character in alphabet: %c", char)
		}
		seen[char] = true
	}

	for _, char := range "ilou" {
		if strings.ContainsRune(alphabet, char) {
			t.Errorf("alphabet should not contain %c", char)
		}
	}
}

type mockRandSource struct {
	values []int
	index  int
}

func (m *mockRandSource) Intn(n int) int {
	if m.index >= len(m.values) {
		return 0
	}
	val := m.values[m.index] % n
	m.index++
	return val
}

func TestGeneratorWithRandSource(t *testing.T) {
	values := make([]int, 20)
	for i := range values {
		values[i] = i + 100
	}
	gen := NewGenerator(&mockRandSource{values: values})

	ids := make(map[string]bool)
	for i := 0; i < 3; i++ {
		id := gen.Generate()
		if err := validate(id); err != nil {
			t.Errorf("ID %d failed validation: %v", i, err)
		}
		ids[id] = true
	}
}
