package api

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// progressConn 包一层写锁：gorilla/websocket 不允许并发写，
// 而进度事件由多个任务 goroutine 并发广播
type progressConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *progressConn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *progressConn) close() {
	c.conn.Close()
}

// 项目进度订阅表（projectID -> 连接集合）
var projectSubscribers = struct {
	sync.RWMutex
	m map[string]map[*progressConn]bool
}{
	m: make(map[string]map[*progressConn]bool),
}

func subscribeProject(projectID string, conn *progressConn) {
	projectSubscribers.Lock()
	defer projectSubscribers.Unlock()
	if projectSubscribers.m[projectID] == nil {
		projectSubscribers.m[projectID] = make(map[*progressConn]bool)
	}
	projectSubscribers.m[projectID][conn] = true
}

func unsubscribeProject(projectID string, conn *progressConn) {
	projectSubscribers.Lock()
	defer projectSubscribers.Unlock()
	delete(projectSubscribers.m[projectID], conn)
	if len(projectSubscribers.m[projectID]) == 0 {
		delete(projectSubscribers.m, projectID)
	}
}

func subscriberCount(projectID string) int {
	projectSubscribers.RLock()
	defer projectSubscribers.RUnlock()
	return len(projectSubscribers.m[projectID])
}

// BroadcastProjectProgress 把镜头进度事件推给项目的全部订阅者。
// 由 service 层经 ProgressNotifier 注入点调用，可能被并发调用。
func BroadcastProjectProgress(projectID string, event interface{}) {
	projectSubscribers.RLock()
	conns := make([]*progressConn, 0, len(projectSubscribers.m[projectID]))
	for conn := range projectSubscribers.m[projectID] {
		conns = append(conns, conn)
	}
	projectSubscribers.RUnlock()

	for _, conn := range conns {
		if err := conn.writeJSON(event); err != nil {
			zap.L().Debug("进度推送失败，移除订阅", zap.Error(err))
			unsubscribeProject(projectID, conn)
			conn.close()
		}
	}
}

// 项目进度 WebSocket：订阅某项目的镜头级进度事件
func ProjectProgressWebSocket(c *gin.Context) {
	projectID := c.Param("project_id")
	rawConn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "WebSocket升级失败"})
		return
	}
	conn := &progressConn{conn: rawConn}

	subscribeProject(projectID, conn)
	defer func() {
		unsubscribeProject(projectID, conn)
		conn.close()
	}()

	// 阻塞读直到对端关闭
	for {
		if _, _, err := rawConn.ReadMessage(); err != nil {
			break
		}
	}
}
