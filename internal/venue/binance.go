package venue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/sirupsen/logrus"

	"github.com/mExOms/execution-gateway/pkg/cache"
	"github.com/mExOms/execution-gateway/pkg/types"
)

const binanceTestnetBaseURL = "https://testnet.binance.vision/api"

// exchangeInfoTTL bounds how long symbol trading rules are served from
// cache before the venue is asked again.
const exchangeInfoTTL = time.Hour

// BinanceAdapter implements the venue contract against Binance spot
// through the official REST client. The server-minted order id is used
// as the Binance client order id, so cancel/status lookups stay keyed
// by our ids.
type BinanceAdapter struct {
	client  *binance.Client
	cache   *cache.TTLCache
	limiter *cache.RateLimiter
	logger  *logrus.Entry
}

// NewBinanceAdapter creates an adapter for Binance spot. The testnet
// flag points the client at the public test cluster.
func NewBinanceAdapter(apiKey, secretKey string, testnet bool) *BinanceAdapter {
	client := binance.NewClient(apiKey, secretKey)
	if testnet {
		client.BaseURL = binanceTestnetBaseURL
	}

	return &BinanceAdapter{
		client:  client,
		cache:   cache.NewTTLCache(),
		limiter: cache.NewRateLimiter(1200, time.Minute),
		logger:  logrus.WithField("component", "binance-adapter"),
	}
}

func (b *BinanceAdapter) GetExchangeInfo(ctx context.Context, symbol string) (*ExchangeInfo, error) {
	cacheKey := "exchange_info:" + symbol
	if cached, ok := b.cache.Get(cacheKey); ok {
		info := cached.(ExchangeInfo)
		return &info, nil
	}

	if !b.limiter.Allow("exchange_info") {
		return nil, types.NewExecutionError("rate limit exceeded for exchange info")
	}

	res, err := b.client.NewExchangeInfoService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, wrapBinanceError(err)
	}

	for _, s := range res.Symbols {
		if s.Symbol != symbol {
			continue
		}

		info := ExchangeInfo{
			Name: "binance",
			// Spot trades around the clock; report a full-week window.
			TradingHours:        allWeekUTC(),
			SupportedOrderTypes: mapOrderTypes(s.OrderTypes),
		}
		if f := s.PriceFilter(); f != nil {
			info.TickSize = parseFloat(f.TickSize)
			info.MinPrice = parseFloat(f.MinPrice)
			info.MaxPrice = parseFloat(f.MaxPrice)
		}
		if f := s.LotSizeFilter(); f != nil {
			info.LotSize = parseFloat(f.StepSize)
			info.MinOrderSize = parseFloat(f.MinQuantity)
			info.MaxOrderSize = parseFloat(f.MaxQuantity)
		}

		b.cache.Set(cacheKey, info, exchangeInfoTTL)
		return &info, nil
	}

	return nil, types.NewExecutionError("symbol not found on binance: %s", symbol)
}

func (b *BinanceAdapter) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	if !b.limiter.Allow("place_order") {
		return nil, types.NewExecutionError("rate limit exceeded for order placement")
	}

	svc := b.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(binanceSide(req.Side)).
		NewClientOrderID(req.ID)

	switch req.Type {
	case types.OrderTypeMarket:
		svc.Type(binance.OrderTypeMarket).
			Quantity(formatFloat(req.Quantity))
	case types.OrderTypeLimit:
		svc.Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Quantity(formatFloat(req.Quantity)).
			Price(formatFloat(req.Price))
	case types.OrderTypeStop:
		svc.Type(binance.OrderTypeStopLoss).
			Quantity(formatFloat(req.Quantity)).
			StopPrice(formatFloat(req.StopPrice))
	case types.OrderTypeStopLimit:
		svc.Type(binance.OrderTypeStopLossLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Quantity(formatFloat(req.Quantity)).
			Price(formatFloat(req.Price)).
			StopPrice(formatFloat(req.StopPrice))
	default:
		return nil, types.NewExecutionError("invalid order type for binance: %s", req.Type)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return nil, wrapBinanceError(err)
	}

	// Remember which symbol the order belongs to; Binance keys cancel
	// and status lookups by (symbol, client order id).
	b.cache.Set("order_symbol:"+req.ID, req.Symbol, 24*time.Hour)

	result := &OrderResult{
		OrderID:        strconv.FormatInt(res.OrderID, 10),
		Status:         binanceStatus(res.Status),
		FilledQuantity: parseFloat(res.ExecutedQuantity),
	}

	var notional, qty, commission float64
	for i, f := range res.Fills {
		fillQty := parseFloat(f.Quantity)
		fillPrice := parseFloat(f.Price)
		fillCommission := parseFloat(f.Commission)
		notional += fillQty * fillPrice
		qty += fillQty
		commission += fillCommission

		result.PartialFills = append(result.PartialFills, types.PartialFill{
			FillID:     fmt.Sprintf("%d-%d", res.OrderID, i),
			Quantity:   fillQty,
			Price:      fillPrice,
			Timestamp:  time.UnixMilli(res.TransactTime).UTC(),
			Commission: fillCommission,
		})
	}
	if qty > 0 {
		result.AveragePrice = notional / qty
		result.Commission = commission
	}
	if result.Status == types.OrderStatusFilled {
		filledAt := time.UnixMilli(res.TransactTime).UTC()
		result.FilledAt = &filledAt
	}

	b.logger.WithFields(logrus.Fields{
		"symbol":   req.Symbol,
		"order_id": result.OrderID,
		"status":   result.Status,
	}).Info("order placed on binance")

	return result, nil
}

func (b *BinanceAdapter) CancelOrder(ctx context.Context, orderID string) error {
	symbol, ok := b.symbolFor(orderID)
	if !ok {
		return types.NewExecutionError("order not found: %s", orderID)
	}

	_, err := b.client.NewCancelOrderService().
		Symbol(symbol).
		OrigClientOrderID(orderID).
		Do(ctx)
	if err != nil {
		return wrapBinanceError(err)
	}
	return nil
}

func (b *BinanceAdapter) GetOrderStatus(ctx context.Context, orderID string) (types.OrderStatus, error) {
	symbol, ok := b.symbolFor(orderID)
	if !ok {
		return "", types.NewExecutionError("order not found: %s", orderID)
	}

	res, err := b.client.NewGetOrderService().
		Symbol(symbol).
		OrigClientOrderID(orderID).
		Do(ctx)
	if err != nil {
		return "", wrapBinanceError(err)
	}
	return binanceStatus(res.Status), nil
}

// AmendOrder is not supported on Binance spot; callers cancel and
// resubmit instead.
func (b *BinanceAdapter) AmendOrder(ctx context.Context, orderID string, newPrice, newQuantity *float64) error {
	return types.NewExecutionError("invalid order amendment: binance spot does not support amend")
}

func (b *BinanceAdapter) GetAccountInfo(ctx context.Context) (*AccountInfo, error) {
	if !b.limiter.Allow("account_info") {
		return nil, types.NewExecutionError("rate limit exceeded for account info")
	}

	res, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, wrapBinanceError(err)
	}

	info := &AccountInfo{AccountID: "binance-spot"}
	for _, bal := range res.Balances {
		free := parseFloat(bal.Free)
		locked := parseFloat(bal.Locked)
		info.TotalBalance += free + locked
		info.AvailableBalance += free
	}
	return info, nil
}

func (b *BinanceAdapter) ValidateOrder(ctx context.Context, req *OrderRequest) error {
	info, err := b.GetExchangeInfo(ctx, req.Symbol)
	if err != nil {
		return err
	}

	if req.Quantity < info.MinOrderSize {
		return types.NewExecutionError("order size %g below minimum %g", req.Quantity, info.MinOrderSize)
	}
	if info.MaxOrderSize > 0 && req.Quantity > info.MaxOrderSize {
		return types.NewExecutionError("order size %g above maximum %g", req.Quantity, info.MaxOrderSize)
	}
	if req.Price != 0 {
		if req.Price < info.MinPrice {
			return types.NewExecutionError("order price %g below minimum %g", req.Price, info.MinPrice)
		}
		if info.MaxPrice > 0 && req.Price > info.MaxPrice {
			return types.NewExecutionError("order price %g above maximum %g", req.Price, info.MaxPrice)
		}
	}
	return nil
}

func (b *BinanceAdapter) symbolFor(orderID string) (string, bool) {
	v, ok := b.cache.Get("order_symbol:" + orderID)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// binanceSide maps the venue-neutral side onto the Binance enum.
func binanceSide(side types.Side) binance.SideType {
	if side == types.SideSell {
		return binance.SideTypeSell
	}
	return binance.SideTypeBuy
}

// binanceStatus maps a Binance order status onto the gateway status.
func binanceStatus(status binance.OrderStatusType) types.OrderStatus {
	switch status {
	case binance.OrderStatusTypeNew:
		return types.OrderStatusOpen
	case binance.OrderStatusTypePartiallyFilled:
		return types.OrderStatusPartiallyFilled
	case binance.OrderStatusTypeFilled:
		return types.OrderStatusFilled
	case binance.OrderStatusTypeCanceled, binance.OrderStatusTypePendingCancel:
		return types.OrderStatusCancelled
	case binance.OrderStatusTypeRejected:
		return types.OrderStatusRejected
	case binance.OrderStatusTypeExpired:
		return types.OrderStatusExpired
	default:
		return types.OrderStatusPending
	}
}

func mapOrderTypes(binanceTypes []string) []string {
	mapped := make([]string, 0, len(binanceTypes))
	for _, t := range binanceTypes {
		switch t {
		case "MARKET":
			mapped = append(mapped, types.OrderTypeMarket)
		case "LIMIT":
			mapped = append(mapped, types.OrderTypeLimit)
		case "STOP_LOSS":
			mapped = append(mapped, types.OrderTypeStop)
		case "STOP_LOSS_LIMIT":
			mapped = append(mapped, types.OrderTypeStopLimit)
		}
	}
	return mapped
}

func allWeekUTC() []TradingHours {
	hours := make([]TradingHours, 7)
	for day := 0; day < 7; day++ {
		hours[day] = TradingHours{
			DayOfWeek: day,
			OpenTime:  "00:00:00",
			CloseTime: "23:59:59",
			Timezone:  "UTC",
		}
	}
	return hours
}

// wrapBinanceError keeps API-level rejections as execution errors (the
// retry vocabulary applies to their messages) and everything else as
// transport failures.
func wrapBinanceError(err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return types.NewExecutionError("binance rejected request: %s", apiErr.Message)
	}
	return types.NewNetworkError(err)
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
