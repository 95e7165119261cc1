package orders_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/ariefcatur/go-card-shop/internal/orders"
	"github.com/ariefcatur/go-card-shop/internal/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

// RepoSuite runs the SQL against the database in POSTGRES_TEST_DSN and is
// skipped without one.
type RepoSuite struct {
	suite.Suite
	ctx   context.Context
	pool  *pgxpool.Pool
	store *orders.PGStore
	prod  string
}

func TestRepoSuite(t *testing.T) {
	if os.Getenv("POSTGRES_TEST_DSN") == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	suite.Run(t, new(RepoSuite))
}

func (s *RepoSuite) SetupSuite() {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	s.ctx = context.Background()
	s.Require().NoError(postgres.Migrate(dsn))
	pool, err := postgres.Connect(s.ctx, dsn)
	s.Require().NoError(err)
	s.pool = pool
	s.store = orders.NewPGStore(pool)
}

func (s *RepoSuite) TearDownSuite() { s.pool.Close() }

func (s *RepoSuite) SetupTest() {
	s.prod = "p-" + uuid.NewString()
	_, err := s.pool.Exec(s.ctx, `INSERT INTO products(id, name, price) VALUES ($1, 'Gift card', 10)`, s.prod)
	s.Require().NoError(err)
	for _, k := range []string{"K1", "K2", "K3"} {
		_, err := s.pool.Exec(s.ctx, `INSERT INTO cards(product_id, card_key) VALUES ($1, $2)`, s.prod, k)
		s.Require().NoError(err)
	}
}

func (s *RepoSuite) TestClaimReleaseConsume() {
	now := time.Now().UTC()
	orderID := uuid.NewString()

	cards, err := s.store.ClaimCards(s.ctx, s.prod, orderID, 2, now.Add(-orders.ReservationTTL), now)
	s.Require().NoError(err)
	s.Len(cards, 2)

	avail, err := s.store.CountAvailableCards(s.ctx, s.prod, now)
	s.Require().NoError(err)
	s.Equal(1, avail)

	n, err := s.store.ReleaseCards(s.ctx, orderID)
	s.Require().NoError(err)
	s.EqualValues(2, n)

	_, err = s.store.ClaimCards(s.ctx, s.prod, orderID, 1, now.Add(-orders.ReservationTTL), now)
	s.Require().NoError(err)
	keys, err := s.store.ConsumeReserved(s.ctx, orderID, now)
	s.Require().NoError(err)
	s.Equal([]string{"K1"}, keys)
}

func (s *RepoSuite) TestClaimSkipsRowsLockedByOpenTx() {
	now := time.Now().UTC()
	stale := now.Add(-orders.ReservationTTL)
	first, second := uuid.NewString(), uuid.NewString()

	claimed := make(chan []orders.Card, 1)
	release := make(chan struct{})
	done := make(chan error, 1)
	defer func() {
		select {
		case <-release:
		default:
			close(release)
		}
	}()

	go func() {
		done <- s.store.InTx(s.ctx, func(q orders.Queries) error {
			cards, err := q.ClaimCards(s.ctx, s.prod, first, 1, stale, now)
			if err != nil {
				return err
			}
			claimed <- cards
			<-release
			return nil
		})
	}()

	var held []orders.Card
	select {
	case held = <-claimed:
	case err := <-done:
		s.Require().FailNow("first claim ended early", "%v", err)
	}
	s.Require().Len(held, 1)
	s.Equal("K1", held[0].CardKey)

	// the first tx still holds K1; a waiting claim would hit the deadline
	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Second)
	defer cancel()
	var got []orders.Card
	err := s.store.InTx(ctx, func(q orders.Queries) error {
		var err error
		got, err = q.ClaimCards(ctx, s.prod, second, 1, stale, now)
		return err
	})
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.NotEqual("K1", got[0].CardKey)

	close(release)
	s.Require().NoError(<-done)

	var owner string
	err = s.pool.QueryRow(s.ctx, `SELECT reserved_order_id FROM cards WHERE product_id = $1 AND card_key = 'K1'`, s.prod).Scan(&owner)
	s.Require().NoError(err)
	s.Equal(first, owner)
}

func (s *RepoSuite) TestInTxRollsBackShortClaim() {
	now := time.Now().UTC()
	p := &orders.Product{ID: s.prod}

	err := s.store.InTx(s.ctx, func(q orders.Queries) error {
		_, err := orders.Claim(s.ctx, q, p, uuid.NewString(), 5, now)
		return err
	})
	s.ErrorIs(err, orders.ErrStockRaceLost)

	avail, err := s.store.CountAvailableCards(s.ctx, s.prod, now)
	s.Require().NoError(err)
	s.Equal(3, avail)
}

func (s *RepoSuite) TestDebitPointsIsConditional() {
	user := uuid.NewString()
	_, err := s.pool.Exec(s.ctx, `INSERT INTO buyers(user_id, points) VALUES ($1, 5)`, user)
	s.Require().NoError(err)

	ok, err := s.store.DebitPoints(s.ctx, user, 6)
	s.Require().NoError(err)
	s.False(ok)

	ok, err = s.store.DebitPoints(s.ctx, user, 5)
	s.Require().NoError(err)
	s.True(ok)

	bal, err := s.store.PointsBalance(s.ctx, user)
	s.Require().NoError(err)
	s.Zero(bal)
}

func (s *RepoSuite) TestOrderRoundTrip() {
	o := &orders.Order{
		OrderID:        uuid.NewString(),
		ProductID:      s.prod,
		ProductName:    "Gift card",
		Quantity:       1,
		Amount:         decimal.RequireFromString("9.50"),
		OriginalAmount: decimal.NewNullDecimal(decimal.NewFromInt(10)),
		Status:         orders.StatusPending,
		UserID:         orders.StrPtr("u1"),
		CreatedAt:      time.Now().UTC().Truncate(time.Microsecond),
	}
	s.Require().NoError(s.store.InsertOrder(s.ctx, o))
	s.ErrorIs(s.store.InsertOrder(s.ctx, o), orders.ErrDuplicateOrder)

	s.Require().NoError(s.store.MarkDelivered(s.ctx, o.OrderID, "T1", []string{"K1", "K2"}, time.Now().UTC()))
	got, err := s.store.GetOrder(s.ctx, o.OrderID)
	s.Require().NoError(err)
	s.Equal(orders.StatusDelivered, got.Status)
	s.Equal([]string{"K1", "K2"}, got.CardKeys)
	s.Equal("K1", *got.CardKey)
	s.Equal("9.50", orders.FormatMoney(got.Amount))

	s.Require().NoError(s.store.DeleteOrder(s.ctx, o.OrderID))
	_, err = s.store.GetOrder(s.ctx, o.OrderID)
	s.True(errors.Is(err, orders.ErrOrderNotFound))
}
