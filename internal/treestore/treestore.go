package treestore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Paths of the storefront tree. Kept in one place so the user-facing and
// admin services address the same layout instead of each spelling it out.
const (
	UsersRoot  = "users"
	CartsRoot  = "carts"
	OrdersRoot = "orders"
)

func UserPath(userID string) string       { return UsersRoot + "/" + userID }
func CartPath(userID string) string       { return CartsRoot + "/" + userID }
func UserOrdersPath(userID string) string { return OrdersRoot + "/" + userID }
func OrderPath(userID, orderID string) string {
	return OrdersRoot + "/" + userID + "/" + orderID
}

// Snapshot is a point-in-time read of a path: an existence flag plus the
// JSON value found there. Reading an interior node materializes the whole
// subtree as a nested object.
type Snapshot struct {
	Exists bool
	Value  json.RawMessage
}

// Decode unmarshals the snapshot value into v. An absent snapshot leaves
// v unchanged.
func (s Snapshot) Decode(v any) error {
	if !s.Exists {
		return nil
	}
	return json.Unmarshal(s.Value, v)
}

// Store is the hierarchical data store contract shared by every service.
// Paths are slash-delimited (users/{id}, carts/{id}, orders/{id}/{orderId}).
type Store interface {
	// Read returns the snapshot at path. Absence is not an error.
	Read(ctx context.Context, path string) (Snapshot, error)
	// Write replaces the value at path wholesale, including any children.
	Write(ctx context.Context, path string, value any) error
	// Merge shallow-merges partial into the object at path, creating it
	// when absent.
	Merge(ctx context.Context, path string, partial map[string]any) error
	// Delete removes the value at path and everything under it.
	Delete(ctx context.Context, path string) error
	// Subscribe opens a snapshot stream for path. The current snapshot is
	// delivered first, then one snapshot per change under the path. The
	// stream is released by Close or by ctx cancellation.
	Subscribe(ctx context.Context, path string) (*Subscription, error)
}

// Subscription is a cancellable stream of snapshots for one path.
// Callers that drop it without Close leak the stream for the life of the
// process.
type Subscription struct {
	C    <-chan Snapshot
	stop func()
	once sync.Once
	done chan struct{}
}

func newSubscription(c <-chan Snapshot, stop func()) *Subscription {
	return &Subscription{C: c, stop: stop, done: make(chan struct{})}
}

// Close cancels the stream; the snapshot channel is closed once the
// backend releases it. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		s.stop()
	})
}

func bindContext(ctx context.Context, sub *Subscription) {
	if ctx == nil || ctx.Done() == nil {
		return
	}
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()
}

// pathAffects reports whether a mutation at mutated is visible from a
// subscription on watched: same path, a descendant, or an ancestor whose
// replacement rewrites the watched subtree.
func pathAffects(mutated, watched string) bool {
	return mutated == watched ||
		strings.HasPrefix(mutated, watched+"/") ||
		strings.HasPrefix(watched, mutated+"/")
}

// leafOps is the minimal per-backend surface. Records are stored as JSON
// leaves keyed by full path; the generic read/write/merge/delete logic on
// top handles interior nodes and paths that point inside a record.
type leafOps interface {
	getLeaf(ctx context.Context, path string) (json.RawMessage, bool, error)
	// scanLeaves returns leaves under prefix, keyed by path relative to it.
	scanLeaves(ctx context.Context, prefix string) (map[string]json.RawMessage, error)
	putLeaf(ctx context.Context, path string, raw json.RawMessage) error
	deleteLeaf(ctx context.Context, path string) error
	deletePrefix(ctx context.Context, prefix string) error
}

func readPath(ctx context.Context, l leafOps, path string) (Snapshot, error) {
	raw, ok, err := l.getLeaf(ctx, path)
	if err != nil {
		return Snapshot{}, err
	}
	if ok {
		return Snapshot{Exists: true, Value: raw}, nil
	}

	children, err := l.scanLeaves(ctx, path+"/")
	if err != nil {
		return Snapshot{}, err
	}
	if len(children) > 0 {
		assembled, err := assembleTree(children)
		if err != nil {
			return Snapshot{}, err
		}
		return Snapshot{Exists: true, Value: assembled}, nil
	}

	// The path may point inside a stored record (users/{id}/role).
	segs := strings.Split(path, "/")
	for i := len(segs) - 1; i > 0; i-- {
		ancestor := strings.Join(segs[:i], "/")
		raw, ok, err := l.getLeaf(ctx, ancestor)
		if err != nil {
			return Snapshot{}, err
		}
		if ok {
			return descendValue(raw, segs[i:]), nil
		}
	}
	return Snapshot{}, nil
}

func writePath(ctx context.Context, l leafOps, path string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value for %s: %w", path, err)
	}

	// A write inside an existing record rewrites that record.
	segs := strings.Split(path, "/")
	for i := len(segs) - 1; i > 0; i-- {
		ancestor := strings.Join(segs[:i], "/")
		ancestorRaw, ok, err := l.getLeaf(ctx, ancestor)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal(ancestorRaw, &obj); err != nil {
			return fmt.Errorf("record at %s is not an object: %w", ancestor, err)
		}
		var nested any
		if err := json.Unmarshal(raw, &nested); err != nil {
			return err
		}
		setNested(obj, segs[i:], nested)
		merged, err := json.Marshal(obj)
		if err != nil {
			return err
		}
		return l.putLeaf(ctx, ancestor, merged)
	}

	if err := l.deletePrefix(ctx, path+"/"); err != nil {
		return err
	}
	return l.putLeaf(ctx, path, raw)
}

func mergePath(ctx context.Context, l leafOps, path string, partial map[string]any) error {
	snap, err := readPath(ctx, l, path)
	if err != nil {
		return err
	}
	obj := map[string]any{}
	if snap.Exists {
		if err := json.Unmarshal(snap.Value, &obj); err != nil {
			return fmt.Errorf("record at %s is not an object: %w", path, err)
		}
	}
	for k, v := range partial {
		obj[k] = v
	}
	return writePath(ctx, l, path, obj)
}

func deletePath(ctx context.Context, l leafOps, path string) error {
	if err := l.deleteLeaf(ctx, path); err != nil {
		return err
	}
	if err := l.deletePrefix(ctx, path+"/"); err != nil {
		return err
	}

	// The path may point inside a stored record.
	segs := strings.Split(path, "/")
	for i := len(segs) - 1; i > 0; i-- {
		ancestor := strings.Join(segs[:i], "/")
		ancestorRaw, ok, err := l.getLeaf(ctx, ancestor)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal(ancestorRaw, &obj); err != nil {
			return nil // not an object, nothing nested to delete
		}
		if !deleteNested(obj, segs[i:]) {
			return nil
		}
		merged, err := json.Marshal(obj)
		if err != nil {
			return err
		}
		return l.putLeaf(ctx, ancestor, merged)
	}
	return nil
}

// assembleTree builds a nested JSON object from leaves keyed by relative path.
func assembleTree(leaves map[string]json.RawMessage) (json.RawMessage, error) {
	root := map[string]any{}
	for rel, raw := range leaves {
		segs := strings.Split(rel, "/")
		node := root
		for _, seg := range segs[:len(segs)-1] {
			child, ok := node[seg].(map[string]any)
			if !ok {
				child = map[string]any{}
				node[seg] = child
			}
			node = child
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("corrupt leaf %s: %w", rel, err)
		}
		node[segs[len(segs)-1]] = v
	}
	return json.Marshal(root)
}

// descendValue indexes into a record by the remaining path segments.
func descendValue(raw json.RawMessage, segs []string) Snapshot {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return Snapshot{}
	}
	for _, seg := range segs {
		obj, ok := v.(map[string]any)
		if !ok {
			return Snapshot{}
		}
		if v, ok = obj[seg]; !ok {
			return Snapshot{}
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return Snapshot{}
	}
	return Snapshot{Exists: true, Value: b}
}

func setNested(obj map[string]any, segs []string, v any) {
	for _, seg := range segs[:len(segs)-1] {
		child, ok := obj[seg].(map[string]any)
		if !ok {
			child = map[string]any{}
			obj[seg] = child
		}
		obj = child
	}
	obj[segs[len(segs)-1]] = v
}

// deleteNested removes the nested key and reports whether anything changed.
func deleteNested(obj map[string]any, segs []string) bool {
	for _, seg := range segs[:len(segs)-1] {
		child, ok := obj[seg].(map[string]any)
		if !ok {
			return false
		}
		obj = child
	}
	if _, ok := obj[segs[len(segs)-1]]; !ok {
		return false
	}
	delete(obj, segs[len(segs)-1])
	return true
}
