package cache

import (
	"container/list"
	"sync"
	"time"
)

type LRUOpts struct {
	Size int
}

type entry struct {
	key     string
	val     any
	expires time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

type lruState struct {
	size  int
	ll    *list.List
	items map[string]*list.Element
}

func (s *lruState) remove(ele *list.Element) {
	s.ll.Remove(ele)
	delete(s.items, ele.Value.(*entry).key)
}

// LRU is safe for concurrent use. All state is owned by one goroutine;
// operations are closures sent to it.
type LRU struct {
	ops       chan func(*lruState)
	done      chan struct{}
	closeOnce sync.Once
}

func NewLRU(opts LRUOpts) *LRU {
	if opts.Size <= 0 {
		opts.Size = 128
	}
	l := &LRU{
		ops:  make(chan func(*lruState)),
		done: make(chan struct{}),
	}
	go l.run(&lruState{
		size:  opts.Size,
		ll:    list.New(),
		items: make(map[string]*list.Element),
	})
	return l
}

func (l *LRU) run(s *lruState) {
	for {
		select {
		case <-l.done:
			return
		case op := <-l.ops:
			op(s)
		}
	}
}

// exec runs op on the owner goroutine and reports false once closed.
func (l *LRU) exec(op func(*lruState)) bool {
	finished := make(chan struct{})
	select {
	case <-l.done:
		return false
	case l.ops <- func(s *lruState) {
		defer close(finished)
		op(s)
	}:
	}
	<-finished
	return true
}

func (l *LRU) Get(key string) (val any, ok bool) {
	l.exec(func(s *lruState) {
		ele, found := s.items[key]
		if !found {
			return
		}
		e := ele.Value.(*entry)
		if e.expired(time.Now()) {
			s.remove(ele)
			return
		}
		s.ll.MoveToFront(ele)
		val, ok = e.val, true
	})
	return
}

func (l *LRU) Put(key string, val any, opts ...PutOption) {
	var o PutOptions
	for _, opt := range opts {
		opt(&o)
	}
	var expires time.Time
	if o.TTL > 0 {
		expires = time.Now().Add(o.TTL)
	}

	l.exec(func(s *lruState) {
		if ele, ok := s.items[key]; ok {
			s.ll.MoveToFront(ele)
			e := ele.Value.(*entry)
			e.val, e.expires = val, expires
			return
		}
		s.items[key] = s.ll.PushFront(&entry{key: key, val: val, expires: expires})
		if s.ll.Len() > s.size {
			if last := s.ll.Back(); last != nil {
				s.remove(last)
			}
		}
	})
}

func (l *LRU) Delete(key string) {
	l.exec(func(s *lruState) {
		if ele, ok := s.items[key]; ok {
			s.remove(ele)
		}
	})
}

func (l *LRU) Clear() {
	l.exec(func(s *lruState) {
		s.ll.Init()
		clear(s.items)
	})
}

func (l *LRU) Len() (n int) {
	l.exec(func(s *lruState) { n = s.ll.Len() })
	return
}

// Close stops the owner goroutine. Later calls behave like an empty cache.
func (l *LRU) Close() {
	l.closeOnce.Do(func() { close(l.done) })
}

var _ Cache = (*LRU)(nil)
