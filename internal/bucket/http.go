package bucket

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ardabaev/cloudhost/internal/auth"
	"github.com/ardabaev/cloudhost/internal/ledger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RegisterRoutes mounts bucket endpoints onto the router.
func RegisterRoutes(group *gin.RouterGroup, service *Service) {
	handler := &httpHandler{service: service}
	group.POST("/buckets", handler.createBucket)
	group.GET("/buckets", handler.listBuckets)
	group.GET("/buckets/:bucketID", handler.getBucket)
	group.PATCH("/buckets/:bucketID", handler.updateBucket)
	group.DELETE("/buckets/:bucketID", handler.deleteBucket)
	group.GET("/buckets/:bucketID/objects", handler.listObjects)
	group.GET("/buckets/:bucketID/presign", handler.presignObject)
	group.POST("/buckets/:bucketID/keys", handler.createKey)
	group.GET("/buckets/:bucketID/keys", handler.listKeys)
	group.DELETE("/buckets/:bucketID/keys/:keyID", handler.deleteKey)
}

type httpHandler struct {
	service *Service
}

type createBucketRequest struct {
	Name         string `json:"name" binding:"required"`
	Plan         string `json:"plan" binding:"required"`
	Region       string `json:"region" binding:"omitempty,max=32"`
	StorageClass string `json:"storage_class" binding:"omitempty,max=32"`
	Public       bool   `json:"public"`
	Versioning   bool   `json:"versioning"`
}

type updateBucketRequest struct {
	Public       *bool   `json:"public"`
	Versioning   *bool   `json:"versioning"`
	AutoRenew    *bool   `json:"auto_renew"`
	StorageClass *string `json:"storage_class" binding:"omitempty,max=32"`
	Name         *string `json:"name"`
}

type createKeyRequest struct {
	Label *string `json:"label" binding:"omitempty,max=64"`
}

type bucketResponse struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	PhysicalName  string     `json:"physical_name"`
	Plan          string     `json:"plan"`
	QuotaGB       int        `json:"quota_gb"`
	Region        string     `json:"region"`
	StorageClass  string     `json:"storage_class"`
	Public        bool       `json:"public"`
	Versioning    bool       `json:"versioning"`
	MonthlyPrice  float64    `json:"monthly_price"`
	Status        string     `json:"status"`
	AutoRenew     bool       `json:"auto_renew"`
	LastBilledAt  *time.Time `json:"last_billed_at,omitempty"`
	NextBillingAt *time.Time `json:"next_billing_at,omitempty"`
	UsedBytes     int64      `json:"used_bytes"`
	ObjectCount   int64      `json:"object_count"`
	UsageSyncedAt *time.Time `json:"usage_synced_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

type objectResponse struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	ETag         string    `json:"etag"`
	LastModified time.Time `json:"last_modified"`
}

func toBucketResponse(b Bucket) bucketResponse {
	return bucketResponse{
		ID:            b.ID.String(),
		Name:          b.Name,
		PhysicalName:  b.PhysicalName,
		Plan:          b.Plan,
		QuotaGB:       b.QuotaGB,
		Region:        b.Region,
		StorageClass:  b.StorageClass,
		Public:        b.Public,
		Versioning:    b.Versioning,
		MonthlyPrice:  b.MonthlyPrice.InexactFloat64(),
		Status:        string(b.Status),
		AutoRenew:     b.AutoRenew,
		LastBilledAt:  b.LastBilledAt,
		NextBillingAt: b.NextBillingAt,
		UsedBytes:     b.UsedBytes,
		ObjectCount:   b.ObjectCount,
		UsageSyncedAt: b.UsageSyncedAt,
		CreatedAt:     b.CreatedAt,
	}
}

func (h *httpHandler) createBucket(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req createBucketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	created, err := h.service.Create(c.Request.Context(), userID, CreateInput{
		Name:         req.Name,
		Plan:         req.Plan,
		Region:       req.Region,
		StorageClass: req.StorageClass,
		Public:       req.Public,
		Versioning:   req.Versioning,
	})
	if err != nil {
		switch err {
		case ledger.ErrInsufficientFunds:
			c.JSON(http.StatusPaymentRequired, gin.H{"error": "insufficient funds"})
		case ErrBucketNameExists:
			c.JSON(http.StatusConflict, gin.H{"error": "bucket name already exists"})
		case ErrUnknownPlan:
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown plan"})
		case ErrInvalidName:
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bucket name"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create bucket"})
		}
		return
	}

	c.JSON(http.StatusCreated, toBucketResponse(created))
}

func (h *httpHandler) listBuckets(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	buckets, err := h.service.List(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list buckets"})
		return
	}

	responses := make([]bucketResponse, 0, len(buckets))
	for _, b := range buckets {
		responses = append(responses, toBucketResponse(b))
	}
	c.JSON(http.StatusOK, gin.H{"buckets": responses})
}

func (h *httpHandler) getBucket(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	bucketID, err := uuid.Parse(c.Param("bucketID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bucket id"})
		return
	}

	b, err := h.service.Get(c.Request.Context(), userID, bucketID)
	if err != nil {
		if err == ErrBucketNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "bucket not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch bucket"})
		return
	}

	c.JSON(http.StatusOK, toBucketResponse(b))
}

func (h *httpHandler) updateBucket(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	bucketID, err := uuid.Parse(c.Param("bucketID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bucket id"})
		return
	}

	var req updateBucketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updated, err := h.service.UpdateSettings(c.Request.Context(), userID, bucketID, UpdateInput{
		Public:       req.Public,
		Versioning:   req.Versioning,
		AutoRenew:    req.AutoRenew,
		StorageClass: req.StorageClass,
		Name:         req.Name,
	})
	if err != nil {
		switch err {
		case ErrBucketNotFound:
			c.JSON(http.StatusNotFound, gin.H{"error": "bucket not found"})
		case ErrBucketNameExists:
			c.JSON(http.StatusConflict, gin.H{"error": "bucket name already exists"})
		case ErrInvalidName:
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bucket name"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update bucket"})
		}
		return
	}

	c.JSON(http.StatusOK, toBucketResponse(updated))
}

func (h *httpHandler) deleteBucket(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	bucketID, err := uuid.Parse(c.Param("bucketID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bucket id"})
		return
	}

	force, _ := strconv.ParseBool(c.DefaultQuery("force", "false"))

	if err := h.service.Delete(c.Request.Context(), userID, bucketID, force); err != nil {
		switch err {
		case ErrBucketNotFound:
			c.JSON(http.StatusNotFound, gin.H{"error": "bucket not found"})
		case ErrBucketNotEmpty:
			c.JSON(http.StatusConflict, gin.H{"error": "bucket not empty, retry with force=true"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete bucket"})
		}
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *httpHandler) listObjects(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	bucketID, err := uuid.Parse(c.Param("bucketID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bucket id"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	objects, err := h.service.ListObjects(c.Request.Context(), userID, bucketID, c.Query("prefix"), limit)
	if err != nil {
		if err == ErrBucketNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "bucket not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list objects"})
		return
	}

	responses := make([]objectResponse, 0, len(objects))
	for _, o := range objects {
		responses = append(responses, objectResponse{
			Key:          o.Key,
			Size:         o.Size,
			ETag:         o.ETag,
			LastModified: o.LastModified,
		})
	}
	c.JSON(http.StatusOK, gin.H{"objects": responses})
}

func (h *httpHandler) presignObject(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	bucketID, err := uuid.Parse(c.Param("bucketID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bucket id"})
		return
	}

	url, err := h.service.PresignObject(c.Request.Context(), userID, bucketID, c.Query("key"), c.DefaultQuery("method", "GET"))
	if err != nil {
		switch err {
		case ErrBucketNotFound:
			c.JSON(http.StatusNotFound, gin.H{"error": "bucket not found"})
		case ErrBucketSuspended:
			c.JSON(http.StatusForbidden, gin.H{"error": "bucket suspended"})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url})
}

func (h *httpHandler) createKey(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	bucketID, err := uuid.Parse(c.Param("bucketID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bucket id"})
		return
	}

	var req createKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	key, err := h.service.CreateKey(c.Request.Context(), userID, bucketID, req.Label)
	if err != nil {
		switch err {
		case ErrBucketNotFound:
			c.JSON(http.StatusNotFound, gin.H{"error": "bucket not found"})
		case ErrBucketSuspended:
			c.JSON(http.StatusForbidden, gin.H{"error": "bucket suspended"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create access key"})
		}
		return
	}

	c.JSON(http.StatusCreated, key)
}

func (h *httpHandler) listKeys(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	bucketID, err := uuid.Parse(c.Param("bucketID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bucket id"})
		return
	}

	keys, err := h.service.ListKeys(c.Request.Context(), userID, bucketID)
	if err != nil {
		if err == ErrBucketNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "bucket not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list access keys"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"keys": keys})
}

func (h *httpHandler) deleteKey(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	bucketID, err := uuid.Parse(c.Param("bucketID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bucket id"})
		return
	}
	keyID, err := uuid.Parse(c.Param("keyID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid key id"})
		return
	}

	if err := h.service.DeleteKey(c.Request.Context(), userID, bucketID, keyID); err != nil {
		switch err {
		case ErrBucketNotFound:
			c.JSON(http.StatusNotFound, gin.H{"error": "bucket not found"})
		case ErrKeyNotFound:
			c.JSON(http.StatusNotFound, gin.H{"error": "access key not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete access key"})
		}
		return
	}

	c.Status(http.StatusNoContent)
}
