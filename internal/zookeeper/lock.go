// internal/zookeeper/lock.go
package zookeeper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
	zlog "github.com/rs/zerolog/log"
)

const defaultLockRoot = "/storefront_locks" // 所有分布式锁的根节点

// Connect 建立 ZooKeeper 会话并等待连上。
func Connect(servers []string, sessionTimeout time.Duration) (*zk.Conn, error) {
	conn, events, err := zk.Connect(servers, sessionTimeout, zk.WithLogInfo(false))
	if err != nil {
		return nil, fmt.Errorf("failed to connect zookeeper %v: %w", servers, err)
	}
	deadline := time.After(sessionTimeout)
	for {
		select {
		case ev := <-events:
			if ev.State == zk.StateHasSession {
				zlog.Info().Strs("servers", servers).Msg("Successfully connected to ZooKeeper.")
				return conn, nil
			}
		case <-deadline:
			conn.Close()
			return nil, fmt.Errorf("timeout connecting zookeeper %v", servers)
		}
	}
}

// Locker 是基于临时顺序节点的分布式锁，实现 keyedmutex.Backend。
// 每个 key 对应 root 下的一个持久节点，竞争者在其下创建 lock- 临时顺序子节点，
// 序号最小者持锁，其余监听前一个节点。
type Locker struct {
	conn *zk.Conn
	root string
}

// NewLocker 创建 Locker 并确保根节点存在。root 为空时使用默认根节点。
func NewLocker(conn *zk.Conn, root string) (*Locker, error) {
	if root == "" {
		root = defaultLockRoot
	}
	l := &Locker{conn: conn, root: root}
	if err := l.ensure(root); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Locker) ensure(path string) error {
	_, err := l.conn.Create(path, []byte(""), 0, zk.WorldACL(zk.PermAll))
	if err != nil && !errors.Is(err, zk.ErrNodeExists) {
		return fmt.Errorf("failed to create lock node %s: %w", path, err)
	}
	return nil
}

// nodeName 把业务 key 转成合法的单层节点名。
func nodeName(key string) string {
	return strings.ReplaceAll(key, "/", "_")
}

// Acquire 阻塞直到获得 key 的锁或 ctx 结束。返回的 release 删除自己的节点。
func (l *Locker) Acquire(ctx context.Context, key string) (func() error, error) {
	lockPath := l.root + "/" + nodeName(key)
	if err := l.ensure(lockPath); err != nil {
		return nil, err
	}

	// 1. 在锁路径下创建一个临时顺序节点
	node, err := l.conn.CreateProtectedEphemeralSequential(lockPath+"/lock-", []byte(""), zk.WorldACL(zk.PermAll))
	if err != nil {
		return nil, fmt.Errorf("failed to create sequential node: %w", err)
	}
	release := func() error {
		err := l.conn.Delete(node, -1)
		if err != nil && !errors.Is(err, zk.ErrNoNode) {
			return fmt.Errorf("failed to delete lock node: %w", err)
		}
		return nil
	}
	myName := strings.TrimPrefix(node, lockPath+"/")

	for {
		// 2. 获取所有竞争者并按序号排序
		children, _, err := l.conn.Children(lockPath)
		if err != nil {
			_ = release()
			return nil, fmt.Errorf("failed to get children nodes: %w", err)
		}
		sortBySequence(children)

		idx := -1
		for i, child := range children {
			if child == myName {
				idx = i
				break
			}
		}
		if idx < 0 {
			// 会话过期导致临时节点丢失
			return nil, fmt.Errorf("lock node %s disappeared", node)
		}
		// 3. 序号最小，获得锁
		if idx == 0 {
			return release, nil
		}

		// 4. 监听前一个节点
		_, _, watch, err := l.conn.ExistsW(lockPath + "/" + children[idx-1])
		if err != nil {
			_ = release()
			return nil, fmt.Errorf("failed to watch previous node: %w", err)
		}

		select {
		case <-watch:
			// 前一个节点被删除（或 watch 失效），重新竞争
		case <-ctx.Done():
			_ = release()
			return nil, ctx.Err()
		}
	}
}

// sortBySequence 按 ZooKeeper 追加的 10 位序号排序。
// protected 节点带有 GUID 前缀，直接按字符串排序会打乱顺序。
func sortBySequence(children []string) {
	seq := func(name string) string {
		if len(name) < 10 {
			return name
		}
		return name[len(name)-10:]
	}
	sort.Slice(children, func(i, j int) bool { return seq(children[i]) < seq(children[j]) })
}
