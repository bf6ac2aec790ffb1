package core

import "vgraph/protocol"

// answerScope turns a scope request into a response in place. The
// response retraces the request route and carries the epoch v held before
// this request, so a walker can tell a revisit from a new vertex. The
// rewritten packet stays in q and leaves on a later tick.
func (s *Scheduler) answerScope(v *Vertex, q *SlotQueue, h Handle, ptr int, now uint32) {
	pkt := q.Bytes(h)
	req, err := protocol.ParseScopeRequest(protocol.Body(pkt, ptr))
	if err != nil {
		s.drop(v, q, h, FaultMalformed, err)
		return
	}
	n, err := protocol.ReverseRoute(pkt, ptr, s.header[:])
	if err != nil {
		s.drop(v, q, h, FaultMalformed, err)
		return
	}

	rsp := protocol.ScopeResponse{
		PrevEpoch: v.scopeEpoch,
		Type:      uint8(v.Type),
		Index:     v.index,
		Siblings:  uint16(v.Siblings()),
		Children:  uint16(v.Children()),
		Name:      v.Name,
	}
	if t, ok := v.behavior.(Transport); ok && t.IsOpen(AnyAddress) {
		rsp.Flags |= protocol.ScopeLinkOpen
	}

	buf := q.buffer(h)
	copy(buf, s.header[:n])
	buf[n] = byte(protocol.OpScopeResponse)
	m, err := rsp.Put(buf[n+1:])
	if err != nil {
		s.drop(v, q, h, FaultOverflow, err)
		return
	}
	q.rewrite(h, n+1+m, now)

	v.scopeEpoch = req.Epoch
	v.lastScope = now
	s.stats.Scopes++
}

// observeScope hands a response that reached its originator to the
// observer installed there
func (s *Scheduler) observeScope(v *Vertex, q *SlotQueue, h Handle, ptr int) {
	obs, ok := v.behavior.(ScopeObserver)
	if !ok {
		s.drop(v, q, h, FaultProtocol, ErrProtocol)
		return
	}
	pkt := q.Bytes(h)
	rsp, err := protocol.ParseScopeResponse(protocol.Body(pkt, ptr))
	if err != nil {
		s.drop(v, q, h, FaultMalformed, err)
		return
	}
	consumed, err := protocol.Consumed(pkt, ptr)
	if err != nil {
		s.drop(v, q, h, FaultMalformed, err)
		return
	}
	obs.ObserveScope(v, consumed.Reverse(), rsp)
	s.stats.Delivered++
	q.Clear(h)
}
