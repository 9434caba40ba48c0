package orders

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/tradeflow/brokerage/internal/ledger"
	"github.com/tradeflow/brokerage/internal/notification"
	"github.com/tradeflow/brokerage/internal/txn"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []notification.Message
	err  error
}

func (n *recordingNotifier) Send(_ context.Context, m notification.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, m)
	return n.err
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.msgs))
	for _, m := range n.msgs {
		out = append(out, m.Kind)
	}
	return out
}

type fixture struct {
	svc      *Service
	repo     Repository
	ledger   ledger.Ledger
	notifier *recordingNotifier
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	return newFixtureWithRepo(t, NewMemoryRepository())
}

func newFixtureWithRepo(t *testing.T, repo Repository) fixture {
	t.Helper()
	led := ledger.NewInMemory()
	n := &recordingNotifier{}
	svc := NewService(Deps{
		Repo:     repo,
		Ledger:   led,
		Runner:   txn.NewMemoryRunner(),
		Catalog:  ledger.NewCatalog("TRY", []string{"AAPL", "GOOGL"}),
		Notifier: n,
	})
	return fixture{svc: svc, repo: repo, ledger: led, notifier: n}
}

func (f fixture) fund(t *testing.T, customer, asset, amount string) {
	t.Helper()
	_, err := f.ledger.Credit(context.Background(), customer, asset, dec(amount))
	require.NoError(t, err)
}

func (f fixture) requireBalance(t *testing.T, customer, asset, total, usable string) {
	t.Helper()
	bal, err := f.ledger.Balance(context.Background(), customer, asset)
	require.NoError(t, err)
	assert.True(t, bal.Total.Equal(dec(total)), "%s total: want %s got %s", asset, total, bal.Total)
	assert.True(t, bal.Usable.Equal(dec(usable)), "%s usable: want %s got %s", asset, usable, bal.Usable)
}

func buy(customer, asset, size, price string) CreateInput {
	return CreateInput{CustomerID: customer, Asset: asset, Side: "BUY", Size: dec(size), Price: dec(price)}
}

func sell(customer, asset, size, price string) CreateInput {
	return CreateInput{CustomerID: customer, Asset: asset, Side: "SELL", Size: dec(size), Price: dec(price)}
}

func TestCreateBuyReservesBaseCurrency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := uuid.NewString()
	f.fund(t, alice, "TRY", "10000")

	o, err := f.svc.Create(ctx, buy(alice, "aapl", "2", "150"))
	require.NoError(t, err)

	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, "AAPL", o.Asset)
	assert.Equal(t, SideBuy, o.Side)
	assert.NotEmpty(t, o.ID)
	f.requireBalance(t, alice, "TRY", "10000", "9700")

	stored, err := f.repo.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, stored.ID)
}

func TestMatchBuySettlesBothAssets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := uuid.NewString()
	f.fund(t, alice, "TRY", "10000")

	o, err := f.svc.Create(ctx, buy(alice, "AAPL", "2", "150"))
	require.NoError(t, err)

	matched, err := f.svc.Match(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusMatched, matched.Status)

	f.requireBalance(t, alice, "TRY", "9700", "9700")
	f.requireBalance(t, alice, "AAPL", "2", "2")
	assert.Equal(t, []string{notification.KindOrderCreated, notification.KindOrderMatched}, f.notifier.kinds())
}

func TestMatchSellCreditsBaseCurrency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bob := uuid.NewString()
	f.fund(t, bob, "GOOGL", "5")

	o, err := f.svc.Create(ctx, sell(bob, "GOOGL", "3", "120.25"))
	require.NoError(t, err)
	f.requireBalance(t, bob, "GOOGL", "5", "2")

	_, err = f.svc.Match(ctx, o.ID)
	require.NoError(t, err)
	f.requireBalance(t, bob, "GOOGL", "2", "2")
	f.requireBalance(t, bob, "TRY", "360.75", "360.75")
}

func TestCancelReleasesReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := uuid.NewString()
	f.fund(t, alice, "TRY", "10000")

	o, err := f.svc.Create(ctx, buy(alice, "AAPL", "2", "150"))
	require.NoError(t, err)

	cancelled, err := f.svc.Cancel(ctx, o.ID, alice, false)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	f.requireBalance(t, alice, "TRY", "10000", "10000")
	assert.Equal(t, []string{notification.KindOrderCreated, notification.KindOrderCancelled}, f.notifier.kinds())
}

func TestCreateSellInsufficientBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := uuid.NewString()
	f.fund(t, alice, "AAPL", "10")

	_, err := f.svc.Create(ctx, sell(alice, "AAPL", "20", "150"))
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	f.requireBalance(t, alice, "AAPL", "10", "10")
	all, err := f.svc.List(ctx, Filter{CustomerID: alice})
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Empty(t, f.notifier.kinds())
}

func TestCreateWithoutFundingRecord(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), buy(uuid.NewString(), "AAPL", "1", "1"))
	require.ErrorIs(t, err, ledger.ErrAssetNotFound)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	alice := uuid.NewString()
	f.fund(t, alice, "TRY", "10000")

	cases := []struct {
		name string
		in   CreateInput
		want error
	}{
		{"base currency", buy(alice, "TRY", "1", "1"), ErrInvalidAsset},
		{"unknown asset", buy(alice, "MSFT", "1", "1"), ErrInvalidAsset},
		{"empty asset", buy(alice, " ", "1", "1"), ErrInvalidAsset},
		{"zero size", buy(alice, "AAPL", "0", "1"), ErrInvalidOrder},
		{"negative price", buy(alice, "AAPL", "1", "-5"), ErrInvalidOrder},
		{"below minimum", buy(alice, "AAPL", "0.001", "1"), ErrInvalidOrder},
		{"too many decimals", buy(alice, "AAPL", "1.255", "1"), ErrInvalidOrder},
		{"bad side", CreateInput{CustomerID: alice, Asset: "AAPL", Side: "HOLD", Size: dec("1"), Price: dec("1")}, ErrInvalidOrder},
		{"bad customer", buy("not-a-uuid", "AAPL", "1", "1"), ErrInvalidOrder},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Create(context.Background(), tc.in)
			require.ErrorIs(t, err, tc.want)
		})
	}
	f.requireBalance(t, alice, "TRY", "10000", "10000")
}

func TestCreateAcceptsTrailingZeros(t *testing.T) {
	f := newFixture(t)
	alice := uuid.NewString()
	f.fund(t, alice, "TRY", "100")

	_, err := f.svc.Create(context.Background(), buy(alice, "AAPL", "1.500", "10.10"))
	require.NoError(t, err)
	f.requireBalance(t, alice, "TRY", "100", "84.85")
}

func TestTerminalStatesRejectTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := uuid.NewString()
	f.fund(t, alice, "TRY", "10000")

	matched, err := f.svc.Create(ctx, buy(alice, "AAPL", "1", "100"))
	require.NoError(t, err)
	_, err = f.svc.Match(ctx, matched.ID)
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, matched.ID, alice, false)
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.svc.Match(ctx, matched.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)

	cancelled, err := f.svc.Create(ctx, buy(alice, "AAPL", "1", "100"))
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, cancelled.ID, alice, false)
	require.NoError(t, err)

	_, err = f.svc.Match(ctx, cancelled.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.svc.Cancel(ctx, cancelled.ID, alice, true)
	require.ErrorIs(t, err, ErrInvalidTransition)

	f.requireBalance(t, alice, "TRY", "9900", "9900")
	f.requireBalance(t, alice, "AAPL", "1", "1")
}

func TestCancelOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, mallory := uuid.NewString(), uuid.NewString()
	f.fund(t, alice, "TRY", "1000")

	o, err := f.svc.Create(ctx, buy(alice, "AAPL", "1", "100"))
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, o.ID, mallory, false)
	require.ErrorIs(t, err, ErrUnauthorizedAccess)
	f.requireBalance(t, alice, "TRY", "1000", "900")

	_, err = f.svc.Get(ctx, o.ID, mallory, false)
	require.ErrorIs(t, err, ErrUnauthorizedAccess)

	_, err = f.svc.Cancel(ctx, o.ID, mallory, true)
	require.NoError(t, err)
	f.requireBalance(t, alice, "TRY", "1000", "1000")
}

func TestUnknownOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := uuid.NewString()

	_, err := f.svc.Cancel(ctx, id, uuid.NewString(), false)
	require.ErrorIs(t, err, ErrOrderNotFound)
	_, err = f.svc.Match(ctx, id)
	require.ErrorIs(t, err, ErrOrderNotFound)
	_, err = f.svc.Get(ctx, id, "", true)
	require.ErrorIs(t, err, ErrOrderNotFound)
}

func TestConcurrentCreatesCannotOverspend(t *testing.T) {
	f := newFixture(t)
	alice := uuid.NewString()
	f.fund(t, alice, "TRY", "1000")

	const workers = 24
	var created atomic.Int32
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			_, err := f.svc.Create(context.Background(), buy(alice, "AAPL", "10", "100"))
			if err == nil {
				created.Add(1)
				return nil
			}
			if errors.Is(err, ledger.ErrInsufficientBalance) {
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.EqualValues(t, 1, created.Load())
	f.requireBalance(t, alice, "TRY", "1000", "0")

	pending, err := f.svc.Pending(context.Background())
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestCancelAndMatchRaceHasOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := uuid.NewString()
	f.fund(t, alice, "TRY", "100000")

	for i := 0; i < 50; i++ {
		o, err := f.svc.Create(ctx, buy(alice, "AAPL", "1", "10"))
		require.NoError(t, err)

		var cancelErr, matchErr error
		var g errgroup.Group
		g.Go(func() error {
			_, cancelErr = f.svc.Cancel(ctx, o.ID, alice, false)
			return nil
		})
		g.Go(func() error {
			_, matchErr = f.svc.Match(ctx, o.ID)
			return nil
		})
		require.NoError(t, g.Wait())

		if cancelErr == nil {
			require.ErrorIs(t, matchErr, ErrInvalidTransition)
		} else {
			require.ErrorIs(t, cancelErr, ErrInvalidTransition)
			require.NoError(t, matchErr)
		}
	}

	bal, err := f.ledger.Balance(ctx, alice, "TRY")
	require.NoError(t, err)
	assert.True(t, bal.Usable.Equal(bal.Total), "no reservation may remain after every order is terminal")

	matched, err := f.svc.List(ctx, Filter{CustomerID: alice, Status: StatusMatched})
	require.NoError(t, err)
	spent := decimal.NewFromInt(int64(len(matched) * 10))
	assert.True(t, bal.Total.Equal(dec("100000").Sub(spent)))
}

func TestPendingOrdersAreFullyReserved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := uuid.NewString()
	f.fund(t, alice, "TRY", "5000")
	f.fund(t, alice, "GOOGL", "10")

	inputs := []CreateInput{
		buy(alice, "AAPL", "3", "100"),
		buy(alice, "GOOGL", "1.5", "200"),
		sell(alice, "GOOGL", "4", "210"),
		sell(alice, "GOOGL", "2.25", "215"),
	}
	var ids []string
	for _, in := range inputs {
		o, err := f.svc.Create(ctx, in)
		require.NoError(t, err)
		ids = append(ids, o.ID)
	}
	_, err := f.svc.Cancel(ctx, ids[1], alice, false)
	require.NoError(t, err)
	_, err = f.svc.Match(ctx, ids[2])
	require.NoError(t, err)

	pending, err := f.svc.List(ctx, Filter{CustomerID: alice, Status: StatusPending})
	require.NoError(t, err)

	reserved := map[string]decimal.Decimal{}
	for _, o := range pending {
		asset, amount := o.Funding("TRY")
		reserved[asset] = reserved[asset].Add(amount)
	}
	for _, asset := range []string{"TRY", "GOOGL"} {
		bal, err := f.ledger.Balance(ctx, alice, asset)
		require.NoError(t, err)
		assert.True(t, bal.Reserved().Equal(reserved[asset]), "%s reserved %s, pending orders need %s", asset, bal.Reserved(), reserved[asset])
	}
}

type failingRepo struct {
	Repository
	createErr error
}

func (r failingRepo) Create(context.Context, Order) error { return r.createErr }

func TestCreateRollsBackReservationWhenStoreFails(t *testing.T) {
	boom := errors.New("orders table unavailable")
	f := newFixtureWithRepo(t, failingRepo{Repository: NewMemoryRepository(), createErr: boom})
	alice := uuid.NewString()
	f.fund(t, alice, "TRY", "1000")

	_, err := f.svc.Create(context.Background(), buy(alice, "AAPL", "2", "100"))
	require.ErrorIs(t, err, boom)
	f.requireBalance(t, alice, "TRY", "1000", "1000")
	assert.Empty(t, f.notifier.kinds())
}

// racingRepo fails UpdateStatus after starting a competing order that wants
// the funds the failed match credited.
type racingRepo struct {
	Repository
	race func() <-chan error
	err  error
	out  <-chan error
}

func (r *racingRepo) UpdateStatus(ctx context.Context, id string, from, to Status) error {
	if to != StatusMatched {
		return r.Repository.UpdateStatus(ctx, id, from, to)
	}
	r.out = r.race()
	time.Sleep(50 * time.Millisecond)
	return r.err
}

func TestFailedMatchCreditIsInvisibleToConcurrentOrders(t *testing.T) {
	boom := errors.New("store write failed")
	repo := &racingRepo{Repository: NewMemoryRepository(), err: boom}
	f := newFixtureWithRepo(t, repo)
	alice := uuid.NewString()
	f.fund(t, alice, "TRY", "1000")

	o, err := f.svc.Create(context.Background(), buy(alice, "AAPL", "2", "100"))
	require.NoError(t, err)

	repo.race = func() <-chan error {
		out := make(chan error, 1)
		go func() {
			_, err := f.svc.Create(context.Background(), sell(alice, "AAPL", "2", "120"))
			out <- err
		}()
		return out
	}

	_, err = f.svc.Match(context.Background(), o.ID)
	require.ErrorIs(t, err, boom)

	sellErr := <-repo.out
	require.Error(t, sellErr)
	assert.True(t, errors.Is(sellErr, ledger.ErrAssetNotFound) || errors.Is(sellErr, ledger.ErrInsufficientBalance), sellErr.Error())

	f.requireBalance(t, alice, "TRY", "1000", "800")
	_, err = f.ledger.Balance(context.Background(), alice, "AAPL")
	require.ErrorIs(t, err, ledger.ErrAssetNotFound)

	pending, err := f.svc.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, o.ID, pending[0].ID)
}

func TestGetForUpdateHonoursContext(t *testing.T) {
	f := newFixture(t)
	alice := uuid.NewString()
	f.fund(t, alice, "TRY", "100")
	o, err := f.svc.Create(context.Background(), buy(alice, "AAPL", "1", "10"))
	require.NoError(t, err)

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- txn.NewMemoryRunner().WithinTx(context.Background(), txn.ReadCommitted, func(ctx context.Context) error {
			if _, err := f.repo.GetForUpdate(ctx, o.ID); err != nil {
				return err
			}
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = f.svc.Cancel(ctx, o.ID, alice, false)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, <-done)
	cancelled, err := f.svc.Cancel(context.Background(), o.ID, alice, false)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
}

func TestNotifierFailureDoesNotFailOrder(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("broker down")
	alice := uuid.NewString()
	f.fund(t, alice, "TRY", "1000")

	o, err := f.svc.Create(context.Background(), buy(alice, "AAPL", "1", "1"))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, o.Status)
}

func TestOrderEventPayload(t *testing.T) {
	f := newFixture(t)
	alice := uuid.NewString()
	f.fund(t, alice, "TRY", "1000")

	o, err := f.svc.Create(context.Background(), buy(alice, "AAPL", "2", "150"))
	require.NoError(t, err)

	require.Len(t, f.notifier.msgs, 1)
	msg := f.notifier.msgs[0]
	assert.Equal(t, o.ID, msg.Key)

	var ev notification.OrderEvent
	require.NoError(t, json.Unmarshal(msg.Body, &ev))
	assert.Equal(t, notification.KindOrderCreated, ev.Kind)
	assert.Equal(t, alice, ev.CustomerID)
	assert.Equal(t, "PENDING", ev.Status)
	assert.Equal(t, "150", ev.Price)
}

func TestListFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := uuid.NewString(), uuid.NewString()
	f.fund(t, alice, "TRY", "1000")
	f.fund(t, bob, "TRY", "1000")

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	f.svc.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Hour)
	}

	a1, err := f.svc.Create(ctx, buy(alice, "AAPL", "1", "1"))
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, buy(bob, "AAPL", "1", "1"))
	require.NoError(t, err)
	a2, err := f.svc.Create(ctx, buy(alice, "GOOGL", "1", "1"))
	require.NoError(t, err)

	mine, err := f.svc.List(ctx, Filter{CustomerID: alice})
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, a1.ID, mine[0].ID)
	assert.Equal(t, a2.ID, mine[1].ID)

	window, err := f.svc.List(ctx, Filter{CustomerID: alice, From: a2.CreatedAt.Add(-time.Minute), To: a2.CreatedAt})
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, a2.ID, window[0].ID)

	page, err := f.svc.List(ctx, Filter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)

	_, err = f.svc.List(ctx, Filter{From: base.Add(time.Hour), To: base})
	require.ErrorIs(t, err, ErrInvalidOrder)
	_, err = f.svc.List(ctx, Filter{Status: "FILLED"})
	require.ErrorIs(t, err, ErrInvalidOrder)
}
