// Package api wires up the Gin HTTP router with all handler functions.
package api

import (
	"causalkv/internal/coordinator"
	"causalkv/internal/transport"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler holds the coordinator every route delegates to.
type Handler struct {
	replica *coordinator.Replica
}

// NewHandler creates a Handler.
func NewHandler(r *coordinator.Replica) *Handler {
	return &Handler{replica: r}
}

// Register mounts every endpoint from spec.md §6 on router.
func (h *Handler) Register(router *gin.Engine) {
	router.GET("/kvs/:key", h.getKey)
	router.PUT("/kvs/:key", h.putKey)
	router.DELETE("/kvs/:key", h.deleteKey)

	router.PUT("/view", h.viewAdd)
	router.GET("/view", h.viewList)
	router.DELETE("/view", h.viewRemove)

	router.GET("/shard/ids", h.shardIDs)
	router.GET("/shard/node-shard-id", h.nodeShardID)
	router.GET("/shard/members/:id", h.shardMembers)
	router.GET("/shard/key-count/:id", h.shardKeyCount)
	router.PUT("/shard/add-member/:id", h.shardAddMember)
	router.PUT("/shard/reshard", h.reshard)

	router.PUT("/viewed", h.receiveViewAdd)
	router.DELETE("/viewed", h.receiveViewRemove)
	router.PUT("/reptorep/:key/:from", h.receiveForwardedPut)
	router.DELETE("/reptorep/:key/:from", h.receiveForwardedDelete)
	router.POST("/reptorep/updatevc", h.receiveVCUpdate)
	router.POST("/reptorep/updatemap/:key", h.receiveKeyLocationUpdate)
	router.GET("/existinginfo", h.existingInfo)
	router.PUT("/shard/addmemberincoming", h.receiveShardAddMemberIncoming)
	router.PUT("/shard/blast_reshard", h.receiveBlastReshard)
	router.PUT("/reptorep/remap", h.receiveRemap)
	router.POST("/reptorep/updated_store", h.receiveUpdatedStore)
	router.POST("/reptorep/updated_map", h.receiveUpdatedMap)
}

func errStatus(err error) (int, string) {
	if ce, ok := err.(*coordinator.Error); ok {
		switch ce.Kind {
		case coordinator.ErrBadRequest:
			return http.StatusBadRequest, ce.Message
		case coordinator.ErrNotFound:
			return http.StatusNotFound, ce.Message
		case coordinator.ErrCausalNotReady:
			return http.StatusServiceUnavailable, ce.Message
		}
	}
	return http.StatusInternalServerError, err.Error()
}

func abortWithError(c *gin.Context, err error) {
	status, msg := errStatus(err)
	c.JSON(status, gin.H{"error": msg})
}

// ─── External client API ──────────────────────────────────────────────

type kvRequestBody struct {
	Value          json.RawMessage `json:"value"`
	CausalMetadata map[string]uint64 `json:"causal-metadata"`
}

func (h *Handler) putKey(c *gin.Context) {
	key := c.Param("key")
	var body kvRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad-request"})
		return
	}

	result, err := h.replica.Put(c.Request.Context(), key, body.Value, body.CausalMetadata)
	if err != nil {
		abortWithError(c, err)
		return
	}

	status := http.StatusOK
	if result.Result == "created" {
		status = http.StatusCreated
	}
	c.JSON(status, result)
}

func (h *Handler) getKey(c *gin.Context) {
	key := c.Param("key")
	var body kvRequestBody
	// GET bodies are optional — an absent body means an empty causal-metadata.
	_ = c.ShouldBindJSON(&body)

	result, err := h.replica.Get(c.Request.Context(), key, body.CausalMetadata)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) deleteKey(c *gin.Context) {
	key := c.Param("key")
	var body kvRequestBody
	_ = c.ShouldBindJSON(&body)

	result, err := h.replica.Delete(c.Request.Context(), key, body.CausalMetadata)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ─── View management ──────────────────────────────────────────────────

type socketAddressBody struct {
	SocketAddress string `json:"socket-address" binding:"required"`
}

func (h *Handler) viewAdd(c *gin.Context) {
	var body socketAddressBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad-request"})
		return
	}
	result, created := h.replica.AddToView(c.Request.Context(), body.SocketAddress)
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, result)
}

func (h *Handler) viewList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"view": h.replica.ListView()})
}

func (h *Handler) viewRemove(c *gin.Context) {
	var body socketAddressBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad-request"})
		return
	}
	if err := h.replica.RemoveFromView(c.Request.Context(), body.SocketAddress); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": "deleted"})
}

// ─── Shard management ─────────────────────────────────────────────────

func (h *Handler) shardIDs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"shard-ids": h.replica.ShardIDs()})
}

func (h *Handler) nodeShardID(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"node-shard-id": h.replica.NodeShardID()})
}

func (h *Handler) shardMembers(c *gin.Context) {
	members, ok := h.replica.ShardMembers(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "shard does not exist"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"shard-members": members})
}

func (h *Handler) shardKeyCount(c *gin.Context) {
	count, ok := h.replica.ShardKeyCount(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "shard does not exist"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"shard-key-count": count})
}

func (h *Handler) shardAddMember(c *gin.Context) {
	var body socketAddressBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad-request"})
		return
	}
	if err := h.replica.AddShardMember(c.Request.Context(), c.Param("id"), body.SocketAddress); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": "node added to shard"})
}

func (h *Handler) reshard(c *gin.Context) {
	var body struct {
		ShardCount int `json:"shard-count" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad-request"})
		return
	}
	result, err := h.replica.Reshard(c.Request.Context(), body.ShardCount)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ─── Internal replica-to-replica endpoints ────────────────────────────

func (h *Handler) receiveViewAdd(c *gin.Context) {
	var body socketAddressBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad-request"})
		return
	}
	if !h.replica.ReceiveViewAdd(body.SocketAddress) {
		c.JSON(http.StatusOK, gin.H{"result": "already present"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"result": "added"})
}

func (h *Handler) receiveViewRemove(c *gin.Context) {
	var body socketAddressBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad-request"})
		return
	}
	if !h.replica.ReceiveViewRemove(body.SocketAddress) {
		c.JSON(http.StatusNotFound, gin.H{"error": "view has no such replica"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": "deleted"})
}

func (h *Handler) receiveForwardedPut(c *gin.Context) {
	var body transport.ReplicatedValue
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad-request"})
		return
	}
	if err := h.replica.ReceiveForwardedPut(c.Param("from"), c.Param("key"), body.Value); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) receiveForwardedDelete(c *gin.Context) {
	var body transport.ReplicatedValue
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad-request"})
		return
	}
	if err := h.replica.ReceiveForwardedDelete(c.Param("from"), c.Param("key"), body.Value); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) receiveVCUpdate(c *gin.Context) {
	var vc map[string]uint64
	if err := c.ShouldBindJSON(&vc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad-request"})
		return
	}
	h.replica.ReceiveVCUpdate(vc)
	c.Status(http.StatusOK)
}

func (h *Handler) receiveKeyLocationUpdate(c *gin.Context) {
	var body struct {
		Shard string `json:"shard"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad-request"})
		return
	}
	h.replica.ReceiveKeyLocationUpdate(c.Param("key"), body.Shard)
	c.Status(http.StatusOK)
}

func (h *Handler) existingInfo(c *gin.Context) {
	c.JSON(http.StatusOK, h.replica.ExistingInfo())
}

func (h *Handler) receiveShardAddMemberIncoming(c *gin.Context) {
	var body struct {
		Shard         string `json:"shard"`
		SocketAddress string `json:"socket-address"`
		transport.TransferBundle
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad-request"})
		return
	}
	h.replica.ReceiveShardAddMemberIncoming(body.Shard, body.SocketAddress, body.TransferBundle)
	c.Status(http.StatusCreated)
}

func (h *Handler) receiveBlastReshard(c *gin.Context) {
	var body transport.ReshardBlast
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad-request"})
		return
	}
	h.replica.ReceiveBlastReshard(body)
	c.JSON(http.StatusOK, gin.H{"result": "resharded"})
}

func (h *Handler) receiveRemap(c *gin.Context) {
	h.replica.ReceiveRemap(c.Request.Context())
	c.Status(http.StatusOK)
}

func (h *Handler) receiveUpdatedStore(c *gin.Context) {
	var body transport.StoreBucket
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad-request"})
		return
	}
	h.replica.ReceiveUpdatedStore(body)
	c.Status(http.StatusOK)
}

func (h *Handler) receiveUpdatedMap(c *gin.Context) {
	var body map[string][]string
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad-request"})
		return
	}
	h.replica.ReceiveUpdatedMap(body)
	c.Status(http.StatusOK)
}
