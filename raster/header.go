package raster

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/astrogo/fitsio"
)

const (
	blockSize = 2880
	cardSize  = 80
)

// structural keywords are written by Create and never copied from templates.
var structural = map[string]bool{
	"SIMPLE": true, "BITPIX": true, "NAXIS": true, "EXTEND": true,
	"BZERO": true, "BSCALE": true, "BLANK": true, "END": true,
	"XTENSION": true, "PCOUNT": true, "GCOUNT": true,
}

func isStructural(name string) bool {
	name = strings.ToUpper(strings.TrimSpace(name))
	if structural[name] {
		return true
	}
	if rest, ok := strings.CutPrefix(name, "NAXIS"); ok {
		_, err := strconv.Atoi(rest)
		return err == nil
	}
	return false
}

// formatCard renders one 80-byte header card.
func formatCard(c fitsio.Card) (string, error) {
	name := strings.ToUpper(strings.TrimSpace(c.Name))
	if len(name) > 8 {
		return "", fmt.Errorf("keyword %q longer than 8 characters", c.Name)
	}

	var line string
	switch {
	case name == "COMMENT" || name == "HISTORY" || name == "":
		text := c.Comment
		if s, ok := c.Value.(string); ok && text == "" {
			text = s
		}
		line = fmt.Sprintf("%-8s%s", name, text)
	case c.Value == nil:
		line = fmt.Sprintf("%-8s= %20s", name, "")
	default:
		v, err := formatValue(c.Value)
		if err != nil {
			return "", fmt.Errorf("keyword %s: %w", name, err)
		}
		line = fmt.Sprintf("%-8s= %s", name, v)
	}
	if c.Comment != "" && name != "COMMENT" && name != "HISTORY" && name != "" {
		line += " / " + c.Comment
	}
	if len(line) > cardSize {
		line = line[:cardSize]
	}
	return fmt.Sprintf("%-80s", line), nil
}

func formatValue(v any) (string, error) {
	switch v := v.(type) {
	case bool:
		if v {
			return fmt.Sprintf("%20s", "T"), nil
		}
		return fmt.Sprintf("%20s", "F"), nil
	case string:
		s := strings.ReplaceAll(v, "'", "''")
		return fmt.Sprintf("'%-8s'", s), nil
	case int:
		return fmt.Sprintf("%20d", v), nil
	case int8, int16, int32, int64, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%20d", v), nil
	case float32:
		return formatFloat(float64(v), 32)
	case float64:
		return formatFloat(v, 64)
	}
	return "", fmt.Errorf("unsupported value type %T", v)
}

func formatFloat(f float64, bits int) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("non-finite value %v", f)
	}
	s := strconv.FormatFloat(f, 'G', -1, bits)
	if !strings.ContainsAny(s, ".E") {
		s += ".0"
	}
	return fmt.Sprintf("%20s", s), nil
}

// encodeHeader renders cards followed by END, padded with spaces to a
// whole number of blocks.
func encodeHeader(cards []fitsio.Card) ([]byte, error) {
	var b strings.Builder
	for _, c := range cards {
		s, err := formatCard(c)
		if err != nil {
			return nil, err
		}
		b.WriteString(s)
	}
	fmt.Fprintf(&b, "%-80s", "END")
	n := b.Len()
	if pad := (blockSize - n%blockSize) % blockSize; pad > 0 {
		b.WriteString(strings.Repeat(" ", pad))
	}
	return []byte(b.String()), nil
}

func padded(n int64) int64 {
	return (n + blockSize - 1) / blockSize * blockSize
}
