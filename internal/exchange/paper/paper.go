// Package paper provides an in-process simulated exchange for paper runs
// and tests.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"algoexec/internal/exchange"
	"algoexec/internal/types"
)

// Config holds simulation behavior.
type Config struct {
	// FillDelay is how long a crossing order rests before filling. Zero
	// fills synchronously inside PlaceLimitOrder.
	FillDelay time.Duration
	// PartialFillParts splits each fill into this many pieces. Values < 2
	// produce a single fill.
	PartialFillParts int
	MakerFeeRate     decimal.Decimal
	TakerFeeRate     decimal.Decimal
}

// DefaultConfig returns default simulation config.
func DefaultConfig() Config {
	return Config{
		FillDelay:        20 * time.Millisecond,
		PartialFillParts: 1,
		MakerFeeRate:     decimal.RequireFromString("0.004"),
		TakerFeeRate:     decimal.RequireFromString("0.006"),
	}
}

type paperOrder struct {
	id        string
	clientID  string
	productID string
	side      types.Side
	size      decimal.Decimal
	price     decimal.Decimal
	status    types.OrderStatus
	fills     []types.Fill
}

func (o *paperOrder) filledSize() decimal.Decimal {
	total := decimal.Zero
	for _, f := range o.fills {
		total = total.Add(f.Size)
	}
	return total
}

// Exchange implements exchange.Exchange against in-memory state. Orders that
// cross the configured book fill (as taker) after FillDelay; resting orders
// fill (as maker) when MovePrice walks the book through them.
type Exchange struct {
	cfg    Config
	logger *slog.Logger
	feed   *Feed

	mu        sync.Mutex
	books     map[string]types.MarketSnapshot
	products  map[string]types.ProductInfo
	candles   map[string][]types.Candle
	orders    map[string]*paperOrder
	byClient  map[string]string
	placeErrs []error

	nextOrderID atomic.Int64
	nextFillID  atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a paper exchange. The feed may be nil.
func New(cfg Config, feed *Feed, logger *slog.Logger) *Exchange {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exchange{
		cfg:      cfg,
		logger:   logger,
		feed:     feed,
		books:    make(map[string]types.MarketSnapshot),
		products: make(map[string]types.ProductInfo),
		candles:  make(map[string][]types.Candle),
		orders:   make(map[string]*paperOrder),
		byClient: make(map[string]string),
		done:     make(chan struct{}),
	}
}

// Close stops pending fill timers.
func (e *Exchange) Close() {
	e.closeOnce.Do(func() { close(e.done) })
	e.wg.Wait()
}

// SetBook sets the top of book for a product.
func (e *Exchange) SetBook(productID string, bid, ask decimal.Decimal) {
	e.mu.Lock()
	e.books[productID] = types.MarketSnapshot{
		ProductID: productID,
		Bid:       bid,
		Ask:       ask,
		Time:      time.Now(),
	}
	e.mu.Unlock()
}

// SetProduct sets product constraints.
func (e *Exchange) SetProduct(info types.ProductInfo) {
	e.mu.Lock()
	e.products[info.ProductID] = info
	e.mu.Unlock()
}

// SetCandles sets the candle history returned by GetCandles.
func (e *Exchange) SetCandles(productID string, candles []types.Candle) {
	e.mu.Lock()
	e.candles[productID] = candles
	e.mu.Unlock()
}

// FailNextPlacements queues errors returned by the next placements, oldest
// first. Used to exercise retry paths.
func (e *Exchange) FailNextPlacements(errs ...error) {
	e.mu.Lock()
	e.placeErrs = append(e.placeErrs, errs...)
	e.mu.Unlock()
}

// PlaceLimitOrder implements exchange.Exchange. Re-submitting a known client
// order ID returns the existing order ID.
func (e *Exchange) PlaceLimitOrder(ctx context.Context, req exchange.OrderRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	e.mu.Lock()
	if len(e.placeErrs) > 0 {
		err := e.placeErrs[0]
		e.placeErrs = e.placeErrs[1:]
		e.mu.Unlock()
		return "", err
	}

	if id, ok := e.byClient[req.ClientOrderID]; ok && req.ClientOrderID != "" {
		e.mu.Unlock()
		return id, nil
	}

	if !req.Size.IsPositive() || !req.Price.IsPositive() {
		e.mu.Unlock()
		return "", fmt.Errorf("%w: size and price must be positive", types.ErrExchangeRejected)
	}
	if info, ok := e.products[req.ProductID]; ok && req.Size.LessThan(info.BaseMinSize) {
		e.mu.Unlock()
		return "", fmt.Errorf("%w: size %s below minimum %s", types.ErrExchangeRejected, req.Size, info.BaseMinSize)
	}

	order := &paperOrder{
		id:        fmt.Sprintf("PAPER-%d", e.nextOrderID.Add(1)),
		clientID:  req.ClientOrderID,
		productID: req.ProductID,
		side:      req.Side,
		size:      req.Size,
		price:     req.Price,
		status:    types.OrderStatusOpen,
	}
	e.orders[order.id] = order
	if req.ClientOrderID != "" {
		e.byClient[req.ClientOrderID] = order.id
	}

	book, hasBook := e.books[req.ProductID]
	crosses := hasBook && orderCrosses(req.Side, req.Price, book)
	e.mu.Unlock()

	e.logger.Debug("paper order placed",
		"order_id", order.id,
		"product", req.ProductID,
		"side", req.Side.String(),
		"size", req.Size,
		"price", req.Price,
		"crosses", crosses,
	)

	if crosses {
		if e.cfg.FillDelay <= 0 {
			e.fill(order.id, false)
		} else {
			e.wg.Add(1)
			go func() {
				defer e.wg.Done()
				select {
				case <-e.done:
					return
				case <-time.After(e.cfg.FillDelay):
				}
				e.fill(order.id, false)
			}()
		}
	}

	return order.id, nil
}

func orderCrosses(side types.Side, price decimal.Decimal, book types.MarketSnapshot) bool {
	if !book.Valid() {
		return false
	}
	if side == types.SideBuy {
		return price.GreaterThanOrEqual(book.Ask)
	}
	return price.LessThanOrEqual(book.Bid)
}

// fill fills the remaining size of an order, split per PartialFillParts.
func (e *Exchange) fill(orderID string, maker bool) {
	e.mu.Lock()
	order, ok := e.orders[orderID]
	if !ok || order.status.IsFinal() {
		e.mu.Unlock()
		return
	}

	remaining := order.size.Sub(order.filledSize())
	parts := e.cfg.PartialFillParts
	if parts < 2 {
		parts = 1
	}

	feeRate := e.cfg.TakerFeeRate
	if maker {
		feeRate = e.cfg.MakerFeeRate
	}

	var emitted []types.Fill
	part := remaining.Div(decimal.NewFromInt(int64(parts)))
	for i := 0; i < parts; i++ {
		size := part
		if i == parts-1 {
			size = remaining.Sub(part.Mul(decimal.NewFromInt(int64(parts - 1))))
		}
		f := types.Fill{
			FillID:  fmt.Sprintf("FILL-%d", e.nextFillID.Add(1)),
			OrderID: order.id,
			Size:    size,
			Price:   order.price,
			Fee:     size.Mul(order.price).Mul(feeRate),
			IsMaker: maker,
			Time:    time.Now(),
		}
		order.fills = append(order.fills, f)
		emitted = append(emitted, f)
	}
	order.status = types.OrderStatusFilled
	e.mu.Unlock()

	if e.feed != nil {
		for _, f := range emitted {
			e.feed.publish(f)
		}
	}
}

// MovePrice updates the book and fills resting orders the move crosses, as
// maker fills.
func (e *Exchange) MovePrice(productID string, bid, ask decimal.Decimal) {
	e.SetBook(productID, bid, ask)

	e.mu.Lock()
	var crossed []string
	for id, o := range e.orders {
		if o.productID != productID || o.status.IsFinal() {
			continue
		}
		if o.side == types.SideBuy && ask.LessThanOrEqual(o.price) {
			crossed = append(crossed, id)
		}
		if o.side == types.SideSell && bid.GreaterThanOrEqual(o.price) {
			crossed = append(crossed, id)
		}
	}
	e.mu.Unlock()

	for _, id := range crossed {
		e.fill(id, true)
	}
}

// CancelOrders implements exchange.Exchange. Terminal orders are ignored.
func (e *Exchange) CancelOrders(ctx context.Context, orderIDs []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range orderIDs {
		o, ok := e.orders[id]
		if !ok || o.status.IsFinal() {
			continue
		}
		o.status = types.OrderStatusCancelled
	}
	return nil
}

// GetOrders implements exchange.Exchange.
func (e *Exchange) GetOrders(ctx context.Context, orderIDs []string) (map[string]exchange.OrderState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]exchange.OrderState, len(orderIDs))
	for _, id := range orderIDs {
		o, ok := e.orders[id]
		if !ok {
			continue
		}
		fills := make([]types.Fill, len(o.fills))
		copy(fills, o.fills)
		status := o.status
		if status == types.OrderStatusOpen && len(fills) > 0 {
			status = types.OrderStatusPartialFill
		}
		out[id] = exchange.OrderState{OrderID: id, Status: status, Fills: fills}
	}
	return out, nil
}

// GetProduct implements exchange.Exchange.
func (e *Exchange) GetProduct(ctx context.Context, productID string) (types.ProductInfo, error) {
	if err := ctx.Err(); err != nil {
		return types.ProductInfo{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if info, ok := e.products[productID]; ok {
		return info, nil
	}
	return types.ProductInfo{
		ProductID:      productID,
		BaseMinSize:    decimal.RequireFromString("0.0001"),
		BaseMaxSize:    decimal.RequireFromString("1000000"),
		BaseIncrement:  decimal.RequireFromString("0.0001"),
		QuoteIncrement: decimal.RequireFromString("0.01"),
	}, nil
}

// GetSnapshot implements exchange.Exchange.
func (e *Exchange) GetSnapshot(ctx context.Context, productID string) (types.MarketSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return types.MarketSnapshot{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	book, ok := e.books[productID]
	if !ok {
		return types.MarketSnapshot{}, fmt.Errorf("%w: no book for %s", types.ErrDataUnavailable, productID)
	}
	return book, nil
}

// GetCandles implements exchange.Exchange. Granularity is ignored; the
// configured candles inside [start, end) are returned.
func (e *Exchange) GetCandles(ctx context.Context, productID string, start, end time.Time, _ time.Duration) ([]types.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []types.Candle
	for _, c := range e.candles[productID] {
		if !c.Start.Before(start) && c.Start.Before(end) {
			out = append(out, c)
		}
	}
	return out, nil
}

var _ exchange.Exchange = (*Exchange)(nil)
