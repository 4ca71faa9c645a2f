package ledger

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/kit-dsn/pfennigfuchs/internal/models"
)

const places = 2

var ErrUnknownMember = errors.New("payment references a user that is not a room member")

// MemberBalance is one row of a room's balance overview.
type MemberBalance struct {
	User    string `json:"user"`
	Balance string `json:"balance"`
}

// Transfer says Debtor owes Creditor Amount.
type Transfer struct {
	Debtor   string `json:"debtor"`
	Creditor string `json:"creditor"`
	Amount   string `json:"amount"`
}

// DebtMatrix holds gross amounts: Cells[i][j] is what Members[i] paid on
// behalf of Members[j].
type DebtMatrix struct {
	Members []string
	Cells   [][]decimal.Decimal
}

// Formatted renders every cell with two decimals.
func (m DebtMatrix) Formatted() [][]string {
	out := make([][]string, len(m.Cells))
	for i, row := range m.Cells {
		out[i] = make([]string, len(row))
		for j, c := range row {
			out[i][j] = c.StringFixed(places)
		}
	}
	return out
}

func (e *Engine) balance(roomID, userID string) decimal.Decimal {
	sum := decimal.Zero
	for _, p := range e.payments(roomID) {
		fromMe := p.ActingSender() == userID
		for _, s := range p.Payment.V {
			switch {
			case fromMe && s.User != userID:
				sum = sum.Sub(s.Amount)
			case !fromMe && s.User == userID:
				sum = sum.Add(s.Amount)
			}
		}
	}
	return sum
}

// Balance returns userID's net position in the room. Positive means the user
// owes the room; the acting sender of a payment is credited.
func (e *Engine) Balance(roomID, userID string) string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.balance(roomID, userID).StringFixed(places)
}

func (e *Engine) balancesOfRoom(roomID string) map[string]string {
	members := e.members.Members(roomID)
	out := make(map[string]string, len(members))
	for _, m := range members {
		out[m] = e.balance(roomID, m).StringFixed(places)
	}
	return out
}

// Tabular maps every room with a ledger to the balances of its members.
func (e *Engine) Tabular() map[string]map[string]string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]map[string]string, len(e.rooms))
	for roomID := range e.rooms {
		out[roomID] = e.balancesOfRoom(roomID)
	}
	return out
}

// SortedBalances lists member balances of a room in ascending order. A room
// without a ledger yields nothing.
func (e *Engine) SortedBalances(roomID string) []MemberBalance {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if _, ok := e.rooms[roomID]; !ok {
		return []MemberBalance{}
	}
	members := e.members.Members(roomID)
	values := make(map[string]decimal.Decimal, len(members))
	out := make([]MemberBalance, 0, len(members))
	for _, m := range members {
		v := e.balance(roomID, m).Round(places)
		values[m] = v
		out = append(out, MemberBalance{User: m, Balance: v.StringFixed(places)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return values[out[i].User].LessThan(values[out[j].User])
	})
	return out
}

// ReduceDebts accumulates every payment into Cells[sender][counterparty].
// Shares whose sender or counterparty is not a member are ignored.
func (e *Engine) ReduceDebts(roomID string) DebtMatrix {
	e.mu.RLock()
	defer e.mu.RUnlock()

	members := e.members.Members(roomID)
	index := indexOf(members)
	cells := make([][]decimal.Decimal, len(members))
	for i := range cells {
		cells[i] = make([]decimal.Decimal, len(members))
	}

	for _, p := range e.payments(roomID) {
		si, ok := index[p.ActingSender()]
		if !ok {
			continue
		}
		for _, s := range p.Payment.V {
			ri, ok := index[s.User]
			if !ok {
				continue
			}
			cells[si][ri] = cells[si][ri].Add(s.Amount).Round(places)
		}
	}
	return DebtMatrix{Members: members, Cells: cells}
}

// SimpleOptimize nets payments per unordered member pair and emits one
// transfer for every pair whose net is non-zero. Pairs are visited in member
// order (i<j, row-major). It does not minimise the number of transfers.
func (e *Engine) SimpleOptimize(roomID string) ([]Transfer, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	members := e.members.Members(roomID)
	index := indexOf(members)
	n := len(members)
	acc := make([][]decimal.Decimal, n)
	for i := range acc {
		acc[i] = make([]decimal.Decimal, n)
	}

	for _, p := range e.payments(roomID) {
		sender := p.ActingSender()
		si, ok := index[sender]
		if !ok {
			return nil, fmt.Errorf("%w: %s in %s", ErrUnknownMember, sender, roomID)
		}
		for _, s := range p.Payment.V {
			ri, ok := index[s.User]
			if !ok {
				return nil, fmt.Errorf("%w: %s in %s", ErrUnknownMember, s.User, roomID)
			}
			switch {
			case si == ri:
			case si < ri:
				acc[si][ri] = acc[si][ri].Sub(s.Amount).Round(places)
			default:
				acc[ri][si] = acc[ri][si].Add(s.Amount).Round(places)
			}
		}
	}

	out := []Transfer{}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			v := acc[i][j]
			switch v.Sign() {
			case 1:
				out = append(out, Transfer{Debtor: members[i], Creditor: members[j], Amount: v.StringFixed(places)})
			case -1:
				out = append(out, Transfer{Debtor: members[j], Creditor: members[i], Amount: v.Neg().StringFixed(places)})
			}
		}
	}
	return out, nil
}

// CalcTotalAmount sums the absolute share amounts of a payment.
func CalcTotalAmount(p *models.PaymentMessage) string {
	sum := decimal.Zero
	for _, s := range p.Payment.V {
		sum = sum.Add(s.Amount.Abs())
	}
	return sum.StringFixed(places)
}

// SumShares adds the shares of p that name userID.
func SumShares(p *models.PaymentMessage, userID string) decimal.Decimal {
	sum := decimal.Zero
	for _, s := range p.Payment.V {
		if s.User == userID {
			sum = sum.Add(s.Amount)
		}
	}
	return sum
}

func indexOf(members []string) map[string]int {
	out := make(map[string]int, len(members))
	for i, m := range members {
		out[m] = i
	}
	return out
}
