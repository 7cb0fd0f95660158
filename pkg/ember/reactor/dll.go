package reactor

import "github.com/yourusername/ember/pkg/ember/conn"

// dll is a doubly-linked list threaded through one of the exported pointer
// pairs on *conn.Connection (IOPrev/IONext, TOPrev/TONext,
// CleanupPrev/CleanupNext, chosen by the push/remove method used). The
// reactor keeps three of them: normal I/O, timeout and cleanup. There is no
// epoll-ready list; the epoll backend reports readiness straight from
// epoll_wait and EpollPrev/EpollNext are never linked.
type dll struct {
	head, tail *conn.Connection
	n          int
}

func (l *dll) pushIO(c *conn.Connection) {
	c.IOPrev, c.IONext = l.tail, nil
	if l.tail != nil {
		l.tail.IONext = c
	} else {
		l.head = c
	}
	l.tail = c
	l.n++
}

func (l *dll) removeIO(c *conn.Connection) {
	if c.IOPrev != nil {
		c.IOPrev.IONext = c.IONext
	} else if l.head == c {
		l.head = c.IONext
	}
	if c.IONext != nil {
		c.IONext.IOPrev = c.IOPrev
	} else if l.tail == c {
		l.tail = c.IOPrev
	}
	c.IOPrev, c.IONext = nil, nil
	l.n--
}

func (l *dll) pushTO(c *conn.Connection) {
	c.TOPrev, c.TONext = l.tail, nil
	if l.tail != nil {
		l.tail.TONext = c
	} else {
		l.head = c
	}
	l.tail = c
	l.n++
}

func (l *dll) removeTO(c *conn.Connection) {
	if c.TOPrev != nil {
		c.TOPrev.TONext = c.TONext
	} else if l.head == c {
		l.head = c.TONext
	}
	if c.TONext != nil {
		c.TONext.TOPrev = c.TOPrev
	} else if l.tail == c {
		l.tail = c.TOPrev
	}
	c.TOPrev, c.TONext = nil, nil
	l.n--
}

// touchTO moves c to the tail of the timeout list (LRU refresh), called
// every time Idle() makes progress on c.
func (l *dll) touchTO(c *conn.Connection) {
	if l.tail == c {
		return
	}
	l.removeTO(c)
	l.pushTO(c)
}

func (l *dll) pushCleanup(c *conn.Connection) {
	c.CleanupPrev, c.CleanupNext = l.tail, nil
	if l.tail != nil {
		l.tail.CleanupNext = c
	} else {
		l.head = c
	}
	l.tail = c
	l.n++
}

func (l *dll) removeCleanup(c *conn.Connection) {
	if c.CleanupPrev != nil {
		c.CleanupPrev.CleanupNext = c.CleanupNext
	} else if l.head == c {
		l.head = c.CleanupNext
	}
	if c.CleanupNext != nil {
		c.CleanupNext.CleanupPrev = c.CleanupPrev
	} else if l.tail == c {
		l.tail = c.CleanupPrev
	}
	c.CleanupPrev, c.CleanupNext = nil, nil
	l.n--
}

func (l *dll) eachIO(fn func(*conn.Connection)) {
	for c := l.head; c != nil; {
		next := c.IONext
		fn(c)
		c = next
	}
}

func (l *dll) eachTO(fn func(*conn.Connection)) {
	for c := l.head; c != nil; {
		next := c.TONext
		fn(c)
		c = next
	}
}

func (l *dll) eachCleanup(fn func(*conn.Connection)) {
	for c := l.head; c != nil; {
		next := c.CleanupNext
		fn(c)
		c = next
	}
}
