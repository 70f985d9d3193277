package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jonhpyo/MyHTS/internal/domain"
	"github.com/jonhpyo/MyHTS/internal/execution"
	"github.com/jonhpyo/MyHTS/pkg/quant"
)

func (s *Server) submitLimit(c *gin.Context) {
	var req limitOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	side, err := domain.ParseSide(req.Side)
	if err != nil {
		writeError(c, err)
		return
	}
	price, err := toMicros(req.Price, "price")
	if err != nil {
		writeError(c, err)
		return
	}

	res, err := s.svc.SubmitLimit(c.Request.Context(), execution.LimitRequest{
		UserID:    req.UserID,
		AccountID: req.AccountID,
		Symbol:    req.Symbol,
		Side:      side,
		Price:     price,
		Qty:       quant.Qty(req.Qty),
	})
	s.writeOrderResult(c, res, err)
}

func (s *Server) submitMarket(c *gin.Context) {
	var req marketOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	side, err := domain.ParseSide(req.Side)
	if err != nil {
		writeError(c, err)
		return
	}

	res, err := s.svc.SubmitMarket(c.Request.Context(), execution.MarketRequest{
		UserID:    req.UserID,
		AccountID: req.AccountID,
		Symbol:    req.Symbol,
		Side:      side,
		Qty:       quant.Qty(req.Qty),
	})
	s.writeOrderResult(c, res, err)
}

// writeOrderResult handles the accepted-but-unmatched case: the order exists
// and is reported with 202 plus the retryable error.
func (s *Server) writeOrderResult(c *gin.Context, res *execution.OrderResult, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, newOrderResultDTO(res))
	case res != nil && domain.IsRetryable(err):
		c.Header("Retry-After", retryAfterSeconds)
		c.JSON(http.StatusAccepted, gin.H{
			"order":     newOrderResultDTO(res),
			"error":     err.Error(),
			"retryable": true,
		})
	default:
		writeError(c, err)
	}
}

func (s *Server) cancel(c *gin.Context) {
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	n, err := s.svc.Cancel(c.Request.Context(), req.OrderIDs)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": n})
}

func (s *Server) workingOrders(c *gin.Context) {
	accountID, err := queryInt(c, "account_id", 0)
	if err != nil || accountID <= 0 {
		badRequest(c, fmt.Errorf("account_id is required"))
		return
	}
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		badRequest(c, err)
		return
	}
	orders, err := s.svc.WorkingOrders(c.Request.Context(), accountID, int(limit))
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]orderDTO, 0, len(orders))
	for _, o := range orders {
		out = append(out, newOrderDTO(o))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) trades(c *gin.Context) {
	accountID, err := queryInt(c, "account_id", 0)
	if err != nil || accountID <= 0 {
		badRequest(c, fmt.Errorf("account_id is required"))
		return
	}
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		badRequest(c, err)
		return
	}
	fills, err := s.svc.Trades(c.Request.Context(), accountID, int(limit))
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]tradeDTO, 0, len(fills))
	for _, f := range fills {
		out = append(out, newFillDTO(f))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) depth(c *gin.Context) {
	levels, err := queryInt(c, "levels", 0)
	if err != nil {
		badRequest(c, err)
		return
	}
	d, err := s.svc.Depth(c.Request.Context(), c.Param("symbol"), int(levels))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newDepthDTO(d))
}

func (s *Server) openAccount(c *gin.Context) {
	var req openAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	acct, err := s.svc.OpenAccount(c.Request.Context(), req.UserID, req.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newAccountDTO(*acct))
}

func (s *Server) listAccounts(c *gin.Context) {
	userID, ok := pathID(c, "user_id")
	if !ok {
		return
	}
	accts, err := s.svc.ListAccounts(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]accountDTO, 0, len(accts))
	for _, a := range accts {
		out = append(out, newAccountDTO(a))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) primaryAccount(c *gin.Context) {
	userID, ok := pathID(c, "user_id")
	if !ok {
		return
	}
	acct, err := s.svc.PrimaryAccount(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newAccountDTO(*acct))
}

func (s *Server) deposit(c *gin.Context) {
	accountID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	amount, err := toMicros(req.Amount, "amount")
	if err != nil {
		writeError(c, err)
		return
	}
	acct, err := s.svc.Deposit(c.Request.Context(), accountID, amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newAccountDTO(*acct))
}

func (s *Server) summary(c *gin.Context) {
	accountID, ok := pathID(c, "id")
	if !ok {
		return
	}
	sum, err := s.svc.AccountSummary(c.Request.Context(), accountID)
	if err != nil {
		writeError(c, err)
		return
	}
	out := summaryDTO{AccountID: sum.Account.ID, Balance: sum.Account.Balance.String(), Positions: make([]positionDTO, 0, len(sum.Positions))}
	for _, p := range sum.Positions {
		out.Positions = append(out.Positions, newPositionDTO(p))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) valuation(c *gin.Context) {
	accountID, ok := pathID(c, "id")
	if !ok {
		return
	}
	v, err := s.svc.Valuation(c.Request.Context(), accountID)
	if err != nil {
		writeError(c, err)
		return
	}
	out := valuationDTO{
		AccountID:       v.AccountID,
		Cash:            v.Cash.String(),
		Positions:       make([]positionDTO, 0, len(v.Positions)),
		TotalUnrealized: v.TotalUnrealized.String(),
	}
	for _, pv := range v.Positions {
		dto := newPositionDTO(pv.Position)
		dto.LastPrice = pv.LastPrice.String()
		dto.AssetValue = pv.AssetValue.String()
		dto.UnrealizedPnL = pv.UnrealizedPnL.String()
		out.Positions = append(out.Positions, dto)
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) reconcile(c *gin.Context) {
	accountID, ok := pathID(c, "id")
	if !ok {
		return
	}
	diffs, err := s.svc.Reconcile(c.Request.Context(), accountID)
	if err != nil {
		writeError(c, err)
		return
	}
	issues := make([]string, 0, len(diffs))
	for _, d := range diffs {
		issues = append(issues, d.String())
	}
	c.JSON(http.StatusOK, gin.H{"account_id": accountID, "consistent": len(diffs) == 0, "discrepancies": issues})
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, fmt.Errorf("invalid %s", name))
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, name string, def int64) (int64, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return v, nil
}
