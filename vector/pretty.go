package vector

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/nittaya1990/spiced/federation"
)

const (
	maxStringDisplay  = 512
	significantDigits = 8
)

// PrettyBatch renders a result batch for tool output: string columns are
// truncated to 512 characters and numeric columns display 8 significant
// digits.
func PrettyBatch(batch *federation.RecordBatch) string {
	var sb strings.Builder
	sb.WriteString(strings.Join(batch.Schema.Names(), " | "))
	sb.WriteString("\n")
	for _, row := range batch.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = prettyValue(v)
		}
		sb.WriteString(strings.Join(cells, " | "))
		sb.WriteString("\n")
	}
	return sb.String()
}

func prettyValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case string:
		return lo.Ellipsis(t, maxStringDisplay)
	case float32:
		return strconv.FormatFloat(float64(t), 'g', significantDigits, 32)
	case float64:
		return strconv.FormatFloat(t, 'g', significantDigits, 64)
	case []float32:
		return fmt.Sprintf("vector[%d]", len(t))
	default:
		return fmt.Sprintf("%v", t)
	}
}
