package repository

import (
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/vaidashi/lavender-orders/internal/models"
)

// whereBuilder accumulates AND-ed predicates with positional placeholders
type whereBuilder struct {
	clauses []string
	args    []interface{}
}

func (b *whereBuilder) arg(v interface{}) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

func (b *whereBuilder) add(clause string) {
	b.clauses = append(b.clauses, clause)
}

func (b *whereBuilder) String() string {
	if len(b.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.clauses, " AND ")
}

// escapeLike escapes the LIKE wildcards in s
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func statusStrings(statuses []models.OrderStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// buildOrderWhere renders filter as a WHERE clause over the orders table
func buildOrderWhere(filter OrderFilter) *whereBuilder {
	b := &whereBuilder{}

	if len(filter.Statuses) > 0 {
		b.add("status = ANY(" + b.arg(pq.Array(statusStrings(filter.Statuses))) + ")")
	}

	if filter.Fulfillment != "" {
		b.add("fulfillment_method = " + b.arg(string(filter.Fulfillment)))
	}

	if search := strings.TrimSpace(filter.Search); search != "" {
		p := b.arg("%" + escapeLike(search) + "%")
		b.add(fmt.Sprintf(
			"(id ILIKE %[1]s OR customer_email ILIKE %[1]s OR customer_first_name ILIKE %[1]s OR customer_last_name ILIKE %[1]s OR customer_phone ILIKE %[1]s)",
			p,
		))
	}

	if filter.CreatedFrom != nil {
		b.add("created_at >= " + b.arg(*filter.CreatedFrom))
	}

	if filter.CreatedBefore != nil {
		b.add("created_at < " + b.arg(*filter.CreatedBefore))
	}

	return b
}

// statusRankExpr orders statuses by their lifecycle position
func statusRankExpr() string {
	var sb strings.Builder

	sb.WriteString("CASE status")
	for _, s := range models.AllStatuses {
		fmt.Fprintf(&sb, " WHEN '%s' THEN %d", s, s.Rank())
	}
	fmt.Fprintf(&sb, " ELSE %d END", len(models.AllStatuses))

	return sb.String()
}

// buildOrderBy renders sort as an ORDER BY clause with an id tie-breaker
func buildOrderBy(sort OrderSort) string {
	var column string

	switch sort.Field {
	case SortUpdatedAt:
		column = "updated_at"
	case SortTotal:
		column = "total_cents"
	case SortStatus:
		column = statusRankExpr()
	default:
		column = "created_at"
	}

	dir := "ASC"
	if sort.Desc {
		dir = "DESC"
	}

	return fmt.Sprintf(" ORDER BY %s %s, id %s", column, dir, dir)
}
