package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/roach88/railverify/internal/purchase"
	"github.com/roach88/railverify/internal/rails"
	"github.com/roach88/railverify/internal/store"
	"github.com/roach88/railverify/internal/verify"
)

func (s *Server) buyer(c *gin.Context) (string, bool) {
	buyer := purchase.NormalizeBuyer(c.GetHeader(s.buyerHeader))
	if buyer == "" {
		c.JSON(http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return "", false
	}
	return buyer, true
}

// verifyPurchase handles POST /marketplace/purchase/verify.
//
//	201 completed, 202 pending, 400/404/409 rejected,
//	502 upstream trouble (purchase stays pending), 503 rail not buildable.
func (s *Server) verifyPurchase(c *gin.Context) {
	buyer, ok := s.buyer(c)
	if !ok {
		return
	}

	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: purchase.CodeInvalidRequest, ReasonCode: purchase.CodeInvalidRequest})
		return
	}

	res, err := s.verifier.Verify(c.Request.Context(), req.input(buyer))
	if err != nil {
		s.writeVerifyError(c, err)
		return
	}

	body := verifyResponse{
		OK:       true,
		Status:   string(res.Disposition),
		Purchase: toPurchaseJSON(res.Purchase),
		Verified: toVerifiedJSON(res.Outcome, res.Reason),
	}
	switch res.Disposition {
	case purchase.DispositionCompleted:
		if res.Entitlement != nil {
			body.Entitlement = toEntitlementJSON(*res.Entitlement)
		}
		c.JSON(http.StatusCreated, body)
	default:
		c.JSON(http.StatusAccepted, body)
	}
}

func (s *Server) writeVerifyError(c *gin.Context, err error) {
	if rej, ok := purchase.AsRejection(err); ok {
		reason := string(rej.Reason)
		if reason == "" {
			reason = rej.Code
		}
		c.JSON(rejectionStatus(rej.Kind), errorResponse{
			Error:      rej.Code,
			ReasonCode: reason,
			PurchaseID: rej.PurchaseID,
			Meta:       rej.Meta,
		})
		return
	}

	var cfgErr *rails.ConfigError
	switch {
	case verify.IsInfrastructure(err):
		s.logger.Warn("purchase verification upstream error", "error", err, "kind", verify.ErrorKind(err))
		c.JSON(http.StatusBadGateway, errorResponse{Error: "upstream_unavailable", ReasonCode: verify.ErrorKind(err)})
	case errors.As(err, &cfgErr), errors.Is(err, verify.ErrUnknownRail):
		s.logger.Error("rail cannot be built", "error", err)
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "rail_unavailable"})
	default:
		s.logger.Error("purchase verification failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal_error"})
	}
}

func rejectionStatus(k purchase.RejectionKind) int {
	switch k {
	case purchase.KindNotFound:
		return http.StatusNotFound
	case purchase.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

// getPurchase handles GET /marketplace/purchases/:id. Buyers only see their
// own purchases; anything else is reported as not found.
func (s *Server) getPurchase(c *gin.Context) {
	buyer, ok := s.buyer(c)
	if !ok {
		return
	}

	p, err := s.store.GetPurchase(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) || (err == nil && p.Buyer != buyer) {
		c.JSON(http.StatusNotFound, errorResponse{Error: "purchase_not_found"})
		return
	}
	if err != nil {
		s.logger.Error("get purchase failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "purchase": toPurchaseJSON(p)})
}

// listPurchases handles GET /marketplace/purchases, newest first.
func (s *Server) listPurchases(c *gin.Context) {
	buyer, ok := s.buyer(c)
	if !ok {
		return
	}

	ps, err := s.store.ListPurchasesByBuyer(c.Request.Context(), buyer)
	if err != nil {
		s.logger.Error("list purchases failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal_error"})
		return
	}
	items := make([]purchaseJSON, 0, len(ps))
	for _, p := range ps {
		items = append(items, toPurchaseJSON(p))
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "items": items})
}
