package offline

import (
	"fmt"
	"strconv"
	"strings"
)

// parseBytes reads sizes such as "512", "64k", "1.5mb" or "2g".
// Units are binary (k = 1024).
func parseBytes(s string) (int64, error) {
	in := s
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	s = strings.TrimSuffix(s, "b")
	mult := int64(1)
	if s != "" {
		switch s[len(s)-1] {
		case 'k':
			mult = 1 << 10
		case 'm':
			mult = 1 << 20
		case 'g':
			mult = 1 << 30
		case 't':
			mult = 1 << 40
		}
		if mult > 1 {
			s = s[:len(s)-1]
		}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("invalid size %q", in)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", in)
	}
	if v < 0 {
		return 0, fmt.Errorf("negative size %q", in)
	}
	return int64(v * float64(mult)), nil
}
