package treasury

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/erp/treasury/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BucketCurrent holds invoices that are not yet overdue
const BucketCurrent = "current"

// DefaultAgingBoundaries are used when the caller supplies none
var DefaultAgingBoundaries = []int{30, 60, 90, 120}

// AgingBuckets is a validated, strictly ascending list of day boundaries
type AgingBuckets struct {
	boundaries []int
}

// NewAgingBuckets validates boundaries. An empty list yields the defaults.
func NewAgingBuckets(boundaries []int) (AgingBuckets, error) {
	if len(boundaries) == 0 {
		boundaries = DefaultAgingBoundaries
	}
	out := make([]int, len(boundaries))
	for i, b := range boundaries {
		if b <= 0 {
			return AgingBuckets{}, shared.NewValidationError("Bucket boundary %d must be positive", b)
		}
		if i > 0 && b <= boundaries[i-1] {
			return AgingBuckets{}, shared.NewValidationError("Bucket boundaries must be strictly ascending")
		}
		out[i] = b
	}
	return AgingBuckets{boundaries: out}, nil
}

// ParseAgingBuckets parses a comma separated list such as "30,60,90"
func ParseAgingBuckets(raw string) (AgingBuckets, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return NewAgingBuckets(nil)
	}
	parts := strings.Split(raw, ",")
	values := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return AgingBuckets{}, shared.NewValidationError("Bucket boundary %q is not a number", p)
		}
		values = append(values, n)
	}
	return NewAgingBuckets(values)
}

// Boundaries returns a copy of the boundaries
func (b AgingBuckets) Boundaries() []int {
	out := make([]int, len(b.boundaries))
	copy(out, b.boundaries)
	return out
}

// Labels returns every bucket label in order, current first and overflow last
func (b AgingBuckets) Labels() []string {
	labels := make([]string, 0, len(b.boundaries)+2)
	labels = append(labels, BucketCurrent)
	lower := 1
	for _, hi := range b.boundaries {
		labels = append(labels, fmt.Sprintf("%d-%d", lower, hi))
		lower = hi + 1
	}
	labels = append(labels, fmt.Sprintf("%d+", lower))
	return labels
}

// Label returns the bucket for daysOverdue. A count equal to a boundary
// belongs to the bucket that boundary closes.
func (b AgingBuckets) Label(daysOverdue int) string {
	if daysOverdue <= 0 {
		return BucketCurrent
	}
	lower := 1
	for _, hi := range b.boundaries {
		if daysOverdue <= hi {
			return fmt.Sprintf("%d-%d", lower, hi)
		}
		lower = hi + 1
	}
	return fmt.Sprintf("%d+", lower)
}

// BucketAmount is the total and count of invoices in one bucket
type BucketAmount struct {
	Label  string          `json:"label"`
	Amount decimal.Decimal `json:"amount"`
	Count  int             `json:"count"`
}

// ClientAging is the aging breakdown for one client
type ClientAging struct {
	ClientID   uuid.UUID       `json:"client_id"`
	ClientName string          `json:"client_name"`
	Buckets    []BucketAmount  `json:"buckets"`
	Total      decimal.Decimal `json:"total"`
}

// AgingReport is the result of an aging run
type AgingReport struct {
	AsOf       time.Time       `json:"as_of"`
	Boundaries []int           `json:"boundaries"`
	Summary    []BucketAmount  `json:"summary"`
	Total      decimal.Decimal `json:"total"`
	ByClient   []ClientAging   `json:"by_client"`
}

// ComputeAging buckets open invoice balances by days overdue in a single pass.
// Clients are sorted by total descending, then name, then id.
func ComputeAging(invoices []*Invoice, asOf time.Time, buckets AgingBuckets, clientFilter *uuid.UUID) *AgingReport {
	asOf = DateOf(asOf)
	labels := buckets.Labels()
	position := make(map[string]int, len(labels))
	for i, l := range labels {
		position[l] = i
	}

	newRow := func() []BucketAmount {
		row := make([]BucketAmount, len(labels))
		for i, l := range labels {
			row[i] = BucketAmount{Label: l, Amount: decimal.Zero}
		}
		return row
	}

	report := &AgingReport{
		AsOf:       asOf,
		Boundaries: buckets.Boundaries(),
		Summary:    newRow(),
		Total:      decimal.Zero,
		ByClient:   make([]ClientAging, 0),
	}
	clients := make(map[uuid.UUID]*ClientAging)

	for _, inv := range invoices {
		if !inv.IsOpen() {
			continue
		}
		if clientFilter != nil && inv.ClientID != *clientFilter {
			continue
		}

		pos := position[buckets.Label(inv.DaysOverdue(asOf))]

		c, ok := clients[inv.ClientID]
		if !ok {
			c = &ClientAging{
				ClientID:   inv.ClientID,
				ClientName: inv.ClientName,
				Buckets:    newRow(),
				Total:      decimal.Zero,
			}
			clients[inv.ClientID] = c
		}

		c.Buckets[pos].Amount = c.Buckets[pos].Amount.Add(inv.Balance)
		c.Buckets[pos].Count++
		c.Total = c.Total.Add(inv.Balance)

		report.Summary[pos].Amount = report.Summary[pos].Amount.Add(inv.Balance)
		report.Summary[pos].Count++
		report.Total = report.Total.Add(inv.Balance)
	}

	for _, c := range clients {
		report.ByClient = append(report.ByClient, *c)
	}
	sort.Slice(report.ByClient, func(i, j int) bool {
		a, b := report.ByClient[i], report.ByClient[j]
		if cmp := a.Total.Cmp(b.Total); cmp != 0 {
			return cmp > 0
		}
		if a.ClientName != b.ClientName {
			return a.ClientName < b.ClientName
		}
		return a.ClientID.String() < b.ClientID.String()
	})

	return report
}
