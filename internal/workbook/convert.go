package workbook

import "strconv"

func itoa(n int) string {
	return strconv.Itoa(n)
}

// literal turns a raw cell string back into a number when it parses as one,
// so copied numeric cells stay numeric.
func literal(v string) any {
	if v == "" {
		return nil
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}
