package engine

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const maxAcceptBackoff = time.Second

// Start opens the listeners (master only), runs OnStart on every service
// registered so far, and launches the poll and tick loops.
func (s *Server) Start() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.stopped.Load() {
		return ErrStopped
	}
	if s.running.Load() {
		return ErrAlreadyRunning
	}

	if !s.cfg.Slave() {
		addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
		s.listener = ln

		if s.cfg.UDP {
			udpAddr, err := net.ResolveUDPAddr("udp", ln.Addr().String())
			if err == nil {
				s.udp, err = net.ListenUDP("udp", udpAddr)
			}
			if err != nil {
				_ = ln.Close()
				return fmt.Errorf("failed to listen for datagrams on %s: %w", ln.Addr(), err)
			}
		}
	}

	for _, svc := range s.Services() {
		b := svc.base()
		// A service still inside Register is not enabled yet and is left out.
		if !b.enabled.Load() || !b.started.CompareAndSwap(false, true) {
			continue
		}
		if err := safeCall(svc.OnStart); err != nil {
			s.logger.Error("Service hook failed",
				zap.String("service", b.name),
				zap.String("hook", "OnStart"),
				zap.Error(err))
		}
	}

	s.lastTick = time.Now()
	s.started.Store(true)
	s.running.Store(true)

	if s.listener != nil {
		s.wg.Add(1)
		go s.listenLoop()
		s.logger.Info("Listening", zap.String("address", s.listener.Addr().String()))
	}
	if s.udp != nil {
		s.wg.Add(1)
		go s.datagramLoop()
		s.logger.Info("Listening for datagrams", zap.String("address", s.udp.LocalAddr().String()))
	}
	s.wg.Add(3)
	go s.pollLoop(&s.sendRotation, (*Client).sendPass)
	go s.pollLoop(&s.recvRotation, (*Client).recvPass)
	go s.tickLoop()

	s.logger.Info("Server started",
		zap.Bool("slave", s.cfg.Slave()),
		zap.Int("tick_rate", s.cfg.TickRate),
		zap.String("impl", string(s.cfg.Impl)))
	return nil
}

// Stop shuts the server down: a slave first tells its peers it is closing,
// then the loops are stopped and joined, services are disabled in reverse
// registration order and remaining connections are closed.
func (s *Server) Stop() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if !s.running.Load() {
		return ErrNotRunning
	}

	if s.cfg.Slave() {
		for _, c := range s.Clients() {
			_ = c.Send(builtinService, "Closing")
		}
	}

	var errs error
	s.running.Store(false)
	if s.listener != nil {
		errs = multierr.Append(errs, s.listener.Close())
	}
	if s.udp != nil {
		errs = multierr.Append(errs, s.udp.Close())
	}
	s.signal()
	s.wg.Wait()

	for _, c := range s.Clients() {
		c.sendPass()
	}
	for _, fn := range s.deferred.Drain() {
		s.runDeferred(fn)
	}
	if n := s.inbound.Len(); n > 0 {
		s.logger.Debug("Discarding undispatched calls", zap.Int("count", n))
		s.inbound.Drain()
	}

	svcs := s.Services()
	for i := len(svcs) - 1; i >= 0; i-- {
		s.disable(svcs[i])
	}
	for _, c := range s.Clients() {
		c.Close()
	}

	s.stopped.Store(true)
	s.logger.Info("Server stopped")
	return errs
}

func (s *Server) listenLoop() {
	defer s.wg.Done()
	backoff := 5 * time.Millisecond
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() {
				return
			}
			if errors.Is(err, net.ErrClosed) {
				s.logger.Error("Listener closed unexpectedly", zap.Error(err))
				return
			}
			s.logger.Warn("Accept failed, retrying", zap.Error(err), zap.Duration("backoff", backoff))
			time.Sleep(backoff)
			backoff = min(backoff*2, maxAcceptBackoff)
			continue
		}
		backoff = 5 * time.Millisecond
		s.AcceptStream(conn)
	}
}

func (s *Server) datagramLoop() {
	defer s.wg.Done()
	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := s.udp.ReadFromUDP(buf)
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Debug("Datagram read failed", zap.Error(err))
			continue
		}
		packet := make([]byte, n)
		copy(packet, buf[:n])
		s.routeDatagram(addr, packet)
	}
}

func (s *Server) routeDatagram(addr *net.UDPAddr, packet []byte) {
	key := addr.String()

	s.routesMu.Lock()
	c, ok := s.routes[key]
	if !ok {
		peer := newDatagramPeer(s.udp, addr, s.cfg)
		c = s.newClient(KindDatagram, peer, peer, peer)
		c.route = key
		s.routes[key] = c
	}
	s.routesMu.Unlock()

	if !ok {
		s.attach(c)
	}
	if !c.src.(*datagramPeer).deliver(packet) {
		s.metrics.framesDropped.WithLabelValues(dropOverflow).Inc()
		c.logger.Warn("Datagram inbox full, dropping packet")
	}
}

// pollLoop rotates through connections one pass at a time. After a full
// rotation without progress it sleeps for the poll timeout.
func (s *Server) pollLoop(rotation *queue[*Client], pass func(*Client) IOResult) {
	defer s.wg.Done()
	idle := 0
	for s.running.Load() {
		c, ok := rotation.Pop()
		if !ok {
			time.Sleep(s.cfg.PollTimeout)
			continue
		}

		res := pass(c)
		if !c.Closed() {
			rotation.Push(c)
		}
		if res == IOOk {
			idle = 0
			continue
		}
		idle++
		if idle > rotation.Len() {
			idle = 0
			time.Sleep(s.cfg.PollTimeout)
		}
	}
}

func (s *Server) tickLoop() {
	defer s.wg.Done()
	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for s.running.Load() {
		s.Tick()

		wait := s.interval - time.Since(s.lastTick)
		if wait <= 0 {
			continue
		}
		timer.Reset(wait)
		select {
		case <-s.wake:
		case <-timer.C:
		}
	}
}

// Tick dispatches queued calls, runs deferred actions and, once a tick
// interval has elapsed, calls OnTick on every service. It runs on the tick
// loop; call it directly only while the server is not running.
func (s *Server) Tick() {
	for _, msg := range s.inbound.Drain() {
		s.dispatch(msg)
	}
	for _, fn := range s.deferred.Drain() {
		s.runDeferred(fn)
	}

	now := time.Now()
	delta := now.Sub(s.lastTick)
	if delta < s.interval {
		return
	}
	s.lastTick = now

	for _, svc := range s.Services() {
		err := safeCall(func() error {
			svc.OnTick(delta)
			return nil
		})
		if err != nil {
			s.logger.Error("Service hook failed",
				zap.String("service", svc.base().name),
				zap.String("hook", "OnTick"),
				zap.Error(err))
		}
	}
	s.metrics.tickDuration.Observe(time.Since(now).Seconds())
}
