package main

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const serverVersion = "0.1.0"

// rpcRequest is one JSON-RPC 2.0 request envelope.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type toolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// newRouter builds the gin engine serving the MCP JSON-RPC endpoint plus
// the ambient health/reflect endpoints, grounded on tarsy's
// `gin.Default()` + grouped-route shape.
func newRouter(d *deps, tools map[string]toolDef, authToken string, log zerolog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": serverVersion})
	})

	authorized := router.Group("/")
	authorized.Use(bearerAuth(authToken))

	authorized.POST("/mcp", func(c *gin.Context) {
		handleMCP(c, d, tools, log)
	})

	authorized.POST("/reflect", func(c *gin.Context) {
		result := d.reflection.Run(c.Request.Context())
		c.JSON(http.StatusOK, result)
	})

	return router
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func handleMCP(c *gin.Context, d *deps, tools map[string]toolDef, log zerolog.Logger) {
	var req rpcRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		c.JSON(http.StatusOK, rpcResponse{JSONRPC: "2.0", Error: &rpcError{Code: -32700, Message: "parse error"}})
		return
	}

	switch req.Method {
	case "tools/list":
		c.JSON(http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: listToolsResult(tools)})
	case "tools/call":
		handleToolsCall(c, d, tools, req, log)
	default:
		c.JSON(http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: -32601, Message: "method not found"}})
	}
}

func listToolsResult(tools map[string]toolDef) gin.H {
	list := make([]gin.H, 0, len(tools))
	for _, t := range tools {
		list = append(list, gin.H{
			"name":        t.tool.Name,
			"description": t.tool.Description,
			"inputSchema": t.inputSchema,
		})
	}
	return gin.H{"tools": list}
}

func handleToolsCall(c *gin.Context, d *deps, tools map[string]toolDef, req rpcRequest, log zerolog.Logger) {
	var params toolsCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		c.JSON(http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: -32602, Message: "invalid params"}})
		return
	}

	tool, ok := tools[params.Name]
	if !ok {
		c.JSON(http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: -32602, Message: "unknown tool: " + params.Name}})
		return
	}

	out, err := tool.handler(c.Request.Context(), d, params.Arguments)
	if err != nil {
		log.Warn().Err(err).Str("tool", params.Name).Msg("tool call failed")
		c.JSON(http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: errorResult(err.Error())})
		return
	}

	data, err := json.Marshal(out)
	if err != nil {
		c.JSON(http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: errorResult("marshal: " + err.Error())})
		return
	}
	c.JSON(http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: textResult(string(data))})
}
