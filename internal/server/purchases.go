package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/coursemart/internal/providers/pdf"
	purchasedomain "github.com/smallbiznis/coursemart/internal/purchase/domain"
	userdomain "github.com/smallbiznis/coursemart/internal/user/domain"
)

// ListPurchases returns the caller's purchases. Staff may list anyone's by
// userId and courseId.
func (s *Server) ListPurchases(c *gin.Context) {
	actor := actorFromContext(c)
	userID, ok := queryID(c, "userId")
	if !ok {
		return
	}
	courseID, ok := queryID(c, "courseId")
	if !ok {
		return
	}

	filter := purchasedomain.ListFilter{CourseID: courseID}
	switch {
	case actor.IsStaff():
		filter.UserID = userID
	default:
		own := actor.UserID()
		filter.UserID = &own
	}

	purchases, err := s.purchases.List(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	views := make([]purchasedomain.View, 0, len(purchases))
	for _, p := range purchases {
		views = append(views, s.purchases.View(p))
	}
	c.JSON(http.StatusOK, gin.H{"data": views})
}

func (s *Server) GetPurchase(c *gin.Context) {
	purchaseID, ok := pathID(c, "id")
	if !ok {
		return
	}
	purchase, err := s.visiblePurchase(c.Request.Context(), actorFromContext(c), purchaseID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": s.purchases.View(purchase)})
}

func (s *Server) GetPurchaseReceipt(c *gin.Context) {
	purchaseID, ok := pathID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	purchase, err := s.visiblePurchase(ctx, actorFromContext(c), purchaseID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	buyer, err := s.users.GetByID(ctx, purchase.UserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	doc, err := s.receipts.RenderReceipt(ctx, pdf.NewReceiptData(s.cfg.AppName, s.purchases.View(purchase), buyer))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="receipt-%s.pdf"`, purchase.ID))
	c.Data(http.StatusOK, "application/pdf", doc)
}

func (s *Server) PayInstallment(c *gin.Context) {
	purchaseID, ok := pathID(c, "id")
	if !ok {
		return
	}
	view, err := s.purchases.PayInstallment(c.Request.Context(), actorFromContext(c).UserID(), purchaseID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": view})
}

func (s *Server) PayRemaining(c *gin.Context) {
	purchaseID, ok := pathID(c, "id")
	if !ok {
		return
	}
	view, err := s.purchases.PayRemaining(c.Request.Context(), actorFromContext(c).UserID(), purchaseID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": view})
}

func (s *Server) visiblePurchase(ctx context.Context, actor userdomain.Actor, id snowflake.ID) (purchasedomain.Purchase, error) {
	purchase, err := s.purchases.Get(ctx, id)
	if err != nil {
		return purchasedomain.Purchase{}, err
	}
	if purchase.UserID != actor.UserID() && !actor.IsStaff() {
		return purchasedomain.Purchase{}, purchasedomain.ErrNotOwner
	}
	return purchase, nil
}
