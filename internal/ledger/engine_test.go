package ledger

import (
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kit-dsn/pfennigfuchs/internal/models"
)

type staticMembers map[string][]string

func (m staticMembers) Members(roomID string) []string { return m[roomID] }

type countingSignal struct{ rooms []string }

func (c *countingSignal) Changed(roomID string) { c.rooms = append(c.rooms, roomID) }

func share(user, amount string) models.Share {
	return models.Share{User: user, Amount: decimal.RequireFromString(amount)}
}

func payment(sender, subject string, shares ...models.Share) *models.PaymentMessage {
	return &models.PaymentMessage{
		EventMeta: models.EventMeta{ID: uuid.NewString(), Sender: "@foo:bar.com", Type: models.TypeMessage},
		Payment:   models.PaymentPayload{Subject: subject, Sender: sender, V: shares},
	}
}

func initial(sender string) *models.InitialMessage {
	return &models.InitialMessage{
		EventMeta: models.EventMeta{ID: uuid.NewString(), Sender: sender, Type: models.TypeMessage},
		Initial:   true,
	}
}

func single(e *Engine, roomID, user, amount, sender string) {
	e.AddMessageBatch(roomID, []models.LedgerEntry{payment(sender, "Food", share(user, amount))}, nil)
}

var threeUsers = []string{"@user1:dom", "@user2:dom", "@user3:dom"}

func newTestEngine(members staticMembers) *Engine {
	return NewEngine(members, nil, zerolog.Nop())
}

func TestBalance_Basics(t *testing.T) {
	e := newTestEngine(staticMembers{})
	assert.Equal(t, "0.00", e.Balance("foo@bar.com", "me@me.com"))

	single(e, "a@b.com", "notme@me.com", "1", "other@me.com")
	assert.Equal(t, "0.00", e.Balance("a@b.com", "me@me.com"))

	single(e, "a@b.com", "me@me.com", "1", "other@me.com")
	single(e, "a@b.com", "me@me.com", "1", "other@me.com")
	assert.Equal(t, "2.00", e.Balance("a@b.com", "me@me.com"))
}

func TestBalance_Mixed(t *testing.T) {
	e := newTestEngine(staticMembers{})

	single(e, "a@b.com", "me@me.com", "1", "other@me.com")
	single(e, "a@b.com", "me@me.com", "1", "me@me.com")
	single(e, "a@b.com", "other@me.com", "-1", "me@me.com")
	single(e, "a@b.com", "other@me.com", "2", "me@me.com")

	assert.Equal(t, "0.00", e.Balance("a@b.com", "me@me.com"))
}

func TestTabular(t *testing.T) {
	// ARRANGE
	e := newTestEngine(staticMembers{
		"a@b.com": threeUsers,
		"c@d.com": {"@user4:dom"},
	})

	// ACT
	e.AddMessageBatch("a@b.com", []models.LedgerEntry{
		payment("@foo:bar.com", "tx1", share("@user1:dom", "1"), share("@user1:dom", "1")),
		payment("@foo:bar.com", "tx2", share("@user1:dom", "2"), share("@user2:dom", "4"), share("@user3:dom", "4")),
		payment("@foo:bar.com", "tx3", share("@user3:dom", "-4")),
	}, nil)
	e.AddMessageBatch("b@c.com", nil, nil)
	e.AddMessageBatch("c@d.com", []models.LedgerEntry{
		payment("@foo:bar.com", "tx4", share("@user4:dom", "4"), share("@user4:dom", "-4")),
	}, nil)

	// ASSERT
	tab := e.Tabular()
	assert.Equal(t, map[string]string{"@user1:dom": "4.00", "@user2:dom": "4.00", "@user3:dom": "0.00"}, tab["a@b.com"])
	b, ok := tab["b@c.com"]
	require.True(t, ok, "a room with only an empty batch is still listed")
	assert.Empty(t, b)
	assert.Equal(t, map[string]string{"@user4:dom": "0.00"}, tab["c@d.com"])
}

func TestSortedBalances(t *testing.T) {
	e := newTestEngine(staticMembers{"a@b.com": threeUsers})
	e.AddMessageBatch("a@b.com", []models.LedgerEntry{
		payment("@foo:bar.com", "tx2", share("@user1:dom", "8"), share("@user2:dom", "4"), share("@user3:dom", "2")),
		payment("@foo:bar.com", "tx1", share("@user1:dom", "1"), share("@user1:dom", "1")),
		payment("@foo:bar.com", "tx3", share("@user3:dom", "-8")),
	}, nil)
	e.AddMessageBatch("b@c.com", nil, nil)

	assert.Equal(t, []MemberBalance{
		{User: "@user3:dom", Balance: "-6.00"},
		{User: "@user2:dom", Balance: "4.00"},
		{User: "@user1:dom", Balance: "10.00"},
	}, e.SortedBalances("a@b.com"))
	assert.Empty(t, e.SortedBalances("b@c.com"))
	assert.Empty(t, e.SortedBalances("nonexistent"))
}

func TestSortedBalances_IncludesMembersWithoutPayments(t *testing.T) {
	e := newTestEngine(staticMembers{"a@b.com": threeUsers})
	e.AddMessageBatch("a@b.com", []models.LedgerEntry{initial("@me:asd.com")}, nil)
	single(e, "a@b.com", "@user2:dom", "10", "@user1:dom")

	assert.Equal(t, []MemberBalance{
		{User: "@user1:dom", Balance: "-10.00"},
		{User: "@user3:dom", Balance: "0.00"},
		{User: "@user2:dom", Balance: "10.00"},
	}, e.SortedBalances("a@b.com"))
}

func TestPaymentsAndCalcTotalAmount(t *testing.T) {
	e := newTestEngine(staticMembers{"a@b.com": threeUsers})
	assert.Empty(t, e.Payments("a@b.com"))

	e.AddMessageBatch("a@b.com", []models.LedgerEntry{
		payment("@foo:bar.com", "tx2", share("@user1:dom", "8"), share("@user2:dom", "4"), share("@user3:dom", "2")),
		payment("@foo:bar.com", "tx1", share("@user1:dom", "1"), share("@user1:dom", "1")),
		payment("@foo:bar.com", "tx3", share("@user3:dom", "-8")),
	}, nil)

	msgs := e.Payments("a@b.com")
	require.Len(t, msgs, 3)
	assert.Equal(t, "14.00", CalcTotalAmount(msgs[0]))
	assert.Equal(t, "2.00", CalcTotalAmount(msgs[1]))
	assert.Equal(t, "8.00", CalcTotalAmount(msgs[2]))
}

func TestPayments_ArrivalOrder(t *testing.T) {
	e := newTestEngine(staticMembers{})

	single(e, "a@b.com", "me@me.com", "10", "other@me.com")
	single(e, "a@b.com", "me@me.com", "20", "other@me.com")

	msgs := e.Payments("a@b.com")
	require.Len(t, msgs, 2)
	assert.Equal(t, "10", msgs[0].Payment.V[0].Amount.String())
	assert.Equal(t, "20", msgs[1].Payment.V[0].Amount.String())
}

func TestAddMessageBatch_DuplicateSuppression(t *testing.T) {
	// ARRANGE
	sig := &countingSignal{}
	e := NewEngine(staticMembers{}, sig, zerolog.Nop())
	p := payment("", "tx3", share("@user3:dom", "-8"))
	notified := 0
	notify := func(string, *models.PaymentMessage) { notified++ }

	// ACT
	first := e.AddMessageBatch("a@b.com", []models.LedgerEntry{p}, notify)
	balanceBefore := e.Balance("a@b.com", "@user3:dom")
	second := e.AddMessageBatch("a@b.com", []models.LedgerEntry{p}, notify)

	// ASSERT
	assert.Len(t, first, 1)
	assert.Empty(t, second)
	assert.Len(t, e.Payments("a@b.com"), 1)
	assert.Equal(t, balanceBefore, e.Balance("a@b.com", "@user3:dom"))
	assert.Equal(t, 1, notified)
	assert.Equal(t, []string{"a@b.com"}, sig.rooms, "an all-duplicate batch does not signal")
}

func TestAddMessageBatch_NotifiesPaymentsOnly(t *testing.T) {
	e := newTestEngine(staticMembers{})
	var got []string
	notify := func(roomID string, p *models.PaymentMessage) { got = append(got, p.Payment.Subject) }

	e.AddMessageBatch("a@b.com", []models.LedgerEntry{
		initial("@me:dom"),
		payment("@a:dom", "dinner", share("@b:dom", "3")),
	}, notify)
	e.AddMessageBatch("a@b.com", []models.LedgerEntry{payment("@a:dom", "cold", share("@b:dom", "3"))}, nil)

	assert.Equal(t, []string{"dinner"}, got)
}

func TestHasFullHistory(t *testing.T) {
	e := newTestEngine(staticMembers{})
	assert.False(t, e.HasFullHistory("@@b.com"))

	e.AddMessageBatch("a@b.com", []models.LedgerEntry{initial("@me:asd.com")}, nil)
	assert.True(t, e.HasFullHistory("a@b.com"))

	single(e, "x@b.com", "@user2:dom", "10", "@user1:dom")
	e.AddMessageBatch("x@b.com", []models.LedgerEntry{initial("@me:asd.com")}, nil)
	assert.False(t, e.HasFullHistory("x@b.com"))
}

func TestReduceDebts(t *testing.T) {
	e := newTestEngine(staticMembers{"a@b.com": threeUsers})
	e.AddMessageBatch("a@b.com", []models.LedgerEntry{initial("@user1:dom")}, nil)

	zeros := [][]string{{"0.00", "0.00", "0.00"}, {"0.00", "0.00", "0.00"}, {"0.00", "0.00", "0.00"}}
	m := e.ReduceDebts("a@b.com")
	assert.Equal(t, threeUsers, m.Members)
	assert.Equal(t, zeros, m.Formatted())

	txs := func(sign string) {
		single(e, "a@b.com", "@user2:dom", sign+"10.00", "@user1:dom")
		single(e, "a@b.com", "@user3:dom", sign+"10.00", "@user2:dom")
		single(e, "a@b.com", "@user1:dom", sign+"10.00", "@user3:dom")
		single(e, "a@b.com", "@user2:dom", sign+"10.00", "@user1:dom")
		single(e, "a@b.com", "@user1:dom", sign+"10.00", "@user3:dom")
		single(e, "a@b.com", "@user1:dom", sign+"10.00", "@user2:dom")
		single(e, "a@b.com", "@illegaluser1:dom", sign+"10.00", "@user1:dom")
		single(e, "a@b.com", "@user1:dom", sign+"10.00", "@illegaluser1:dom")
	}

	txs("")
	assert.Equal(t, [][]string{
		{"0.00", "20.00", "0.00"},
		{"10.00", "0.00", "10.00"},
		{"20.00", "0.00", "0.00"},
	}, e.ReduceDebts("a@b.com").Formatted())

	txs("-")
	assert.Equal(t, zeros, e.ReduceDebts("a@b.com").Formatted())
}

func TestReduceDebts_NoRoom(t *testing.T) {
	e := newTestEngine(staticMembers{})

	m := e.ReduceDebts("!nonexistent-room:dom.com")

	assert.Empty(t, m.Members)
	assert.Empty(t, m.Formatted())
}

func TestSimpleOptimize(t *testing.T) {
	users := []string{"user1", "user2", "user3", "user4"}
	e := newTestEngine(staticMembers{"a@b.com": users})
	e.AddMessageBatch("a@b.com", []models.LedgerEntry{initial("user1")}, nil)

	check := func(want ...Transfer) {
		t.Helper()
		got, err := e.SimpleOptimize("a@b.com")
		require.NoError(t, err)
		if want == nil {
			want = []Transfer{}
		}
		assert.Equal(t, want, got)
	}
	tr := func(debtor, creditor, amount string) Transfer {
		return Transfer{Debtor: debtor, Creditor: creditor, Amount: amount}
	}

	check()
	single(e, "a@b.com", "user1", "10.00", "user2")
	check(tr("user1", "user2", "10.00"))
	single(e, "a@b.com", "user1", "10.00", "user3")
	check(tr("user1", "user2", "10.00"), tr("user1", "user3", "10.00"))
	single(e, "a@b.com", "user3", "10.00", "user1")
	check(tr("user1", "user2", "10.00"))
	single(e, "a@b.com", "user3", "10.00", "user1")
	check(tr("user1", "user2", "10.00"), tr("user3", "user1", "10.00"))
	single(e, "a@b.com", "user2", "10.00", "user1")
	single(e, "a@b.com", "user1", "10.00", "user3")
	check()

	single(e, "a@b.com", "user1", "7.00", "user2")
	single(e, "a@b.com", "user1", "7.00", "user4")
	single(e, "a@b.com", "user2", "4.00", "user3")
	single(e, "a@b.com", "user3", "3.00", "user1")
	single(e, "a@b.com", "user3", "6.00", "user4")
	single(e, "a@b.com", "user4", "2.00", "user2")
	check(
		tr("user1", "user2", "7.00"),
		tr("user3", "user1", "3.00"),
		tr("user1", "user4", "7.00"),
		tr("user2", "user3", "4.00"),
		tr("user4", "user2", "2.00"),
		tr("user3", "user4", "6.00"),
	)

	single(e, "a@b.com", "user1", "-7.00", "user2")
	single(e, "a@b.com", "user1", "-7.00", "user4")
	single(e, "a@b.com", "user2", "-4.00", "user3")
	single(e, "a@b.com", "user3", "-3.00", "user1")
	single(e, "a@b.com", "user3", "-6.00", "user4")
	single(e, "a@b.com", "user4", "-2.00", "user2")
	check()

	// self payments never produce a transfer
	single(e, "a@b.com", "user1", "10.00", "user1")
	check()
}

func TestSimpleOptimize_UnknownMember(t *testing.T) {
	e := newTestEngine(staticMembers{"a@b.com": {"user1"}})
	single(e, "a@b.com", "user1", "1", "stranger")

	_, err := e.SimpleOptimize("a@b.com")

	assert.ErrorIs(t, err, ErrUnknownMember)
}

func TestBalance_ZeroSum(t *testing.T) {
	users := []string{"@a:dom", "@b:dom", "@c:dom", "@d:dom"}
	e := newTestEngine(staticMembers{"!r": users})
	e.AddMessageBatch("!r", []models.LedgerEntry{
		payment("@a:dom", "rent", share("@b:dom", "100.10"), share("@c:dom", "33.33"), share("@d:dom", "0.01")),
		payment("@b:dom", "food", share("@a:dom", "12.5"), share("@b:dom", "12.5"), share("@c:dom", "-3.20")),
		payment("@d:dom", "refund", share("@a:dom", "-7.77")),
		payment("@c:dom", "taxi", share("@c:dom", "9.99")),
	}, nil)

	total := decimal.Zero
	for _, u := range users {
		total = total.Add(decimal.RequireFromString(e.Balance("!r", u)))
	}

	assert.Equal(t, "0.00", total.StringFixed(2))
}

func TestLeaveRoomAndClear(t *testing.T) {
	e := newTestEngine(staticMembers{})
	p := payment("@a:dom", "x", share("@b:dom", "1"))
	e.AddMessageBatch("!r", []models.LedgerEntry{p}, nil)
	e.AddMessageBatch("!s", []models.LedgerEntry{payment("@a:dom", "y", share("@b:dom", "1"))}, nil)

	e.LeaveRoom("!r")
	assert.Empty(t, e.Payments("!r"))
	assert.Len(t, e.AddMessageBatch("!r", []models.LedgerEntry{p}, nil), 1, "seen-set is cleared with the room")

	e.Clear()
	assert.Empty(t, e.Rooms())
}
