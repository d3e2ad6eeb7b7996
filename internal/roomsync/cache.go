package roomsync

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// Cache 按房间缓存买家 hash，对应浏览器端的 localStorage。
// hash 是买家在房间里唯一的身份凭证，丢了就只能换房重来。
type Cache struct {
	mu   sync.Mutex
	path string
	data map[string]string
}

// OpenCache 打开（或新建）缓存文件。dir 为空时放到用户配置目录下。
func OpenCache(dir string) (*Cache, error) {
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(base, "online-invoicing")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	c := &Cache{
		path: filepath.Join(dir, "buyer_hashes.json"),
		data: make(map[string]string),
	}
	raw, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(raw, &c.data); err != nil {
		// 缓存损坏时从空档开始，不让一次坏写毁掉整个客户端。
		c.data = make(map[string]string)
	}
	return c, nil
}

// Get 返回房间对应的买家 hash，没有则返回空串。
func (c *Cache) Get(roomHash string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data[roomHash]
}

// Put 记下房间的买家 hash 并立即落盘。
func (c *Cache) Put(roomHash, buyerHash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[roomHash] = buyerHash
	return c.flush()
}

// Forget 清掉房间的缓存凭证。
func (c *Cache) Forget(roomHash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, roomHash)
	return c.flush()
}

func (c *Cache) flush() error {
	raw, err := json.MarshalIndent(c.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, raw, 0o600)
}
