package runtime

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"chainflow/src/aggregate"
	"chainflow/src/config"
	"chainflow/src/connector"
	"chainflow/src/dispatch"
	"chainflow/src/interfaces"
	"chainflow/src/logger"
	"chainflow/src/models"
	"chainflow/src/normalize"
	"chainflow/src/server"
	"chainflow/src/timeframe"
	"chainflow/src/utils"
)

// -----------------------------------------------------------------------------
// Supervisor composes connector pipelines, operates health and dispatch
// cadences, and coordinates graceful termination.
// -----------------------------------------------------------------------------

const healthInterval = 30 * time.Second

// Pipeline is one connector with its aggregators. Dispatch goes through the
// supervisor's shared Dispatcher.
type Pipeline struct {
	Name        string
	Connector   interfaces.IConnector
	Aggregators []interfaces.IAggregator
	Network     *timeframe.Network
	Preload     func(ctx context.Context) // optional historical preload
}

type Supervisor struct {
	Config     *config.Config
	Logger     *logger.Logger
	NetMgr     interfaces.INetworkManager
	Recorder   interfaces.IRecorder
	Server     *server.StatusServer
	Dispatcher *dispatch.Dispatcher

	pipelines []*Pipeline
	wg        sync.WaitGroup
}

// -----------------------------------------------------------------------------

func NewSupervisor(cfg *config.Config, log *logger.Logger, netMgr interfaces.INetworkManager, rec interfaces.IRecorder, srv *server.StatusServer) *Supervisor {
	return &Supervisor{
		Config:     cfg,
		Logger:     log,
		NetMgr:     netMgr,
		Recorder:   rec,
		Server:     srv,
		Dispatcher: dispatch.NewDispatcher(&cfg.Dispatch, logger.NewLogger(cfg.LogLevel, "Dispatcher")),
	}
}

// -----------------------------------------------------------------------------
// tickRouter fans ticks out to the per-symbol aggregator of a pipeline.
// -----------------------------------------------------------------------------

type tickRouter struct {
	aggregators map[string]interfaces.IAggregator
}

func (r *tickRouter) AddTick(tick models.MTick) {
	if agg, ok := r.aggregators[tick.Symbol]; ok {
		agg.AddTick(tick)
	}
}

// -----------------------------------------------------------------------------
// Pipeline construction
// -----------------------------------------------------------------------------

// BuildPipelines constructs pipelines for the configured connector kind.
// A source with missing credentials is skipped with a warning; an empty
// result is a startup error handled by the caller.
func (s *Supervisor) BuildPipelines() []*Pipeline {
	selector := s.Config.Connector
	want := func(name string) bool {
		switch selector {
		case "all":
			return true
		case "both":
			return name == "binance" || name == "polygon"
		default:
			return selector == name
		}
	}

	if want("binance") {
		if p := s.buildBinance(); p != nil {
			s.pipelines = append(s.pipelines, p)
		}
	}
	if want("polygon") {
		if p := s.buildPolygon(); p != nil {
			s.pipelines = append(s.pipelines, p)
		}
	}
	if want("accuweather") {
		if p := s.buildAccuWeather(); p != nil {
			s.pipelines = append(s.pipelines, p)
		}
	}
	if want("bloomberg") {
		if p := s.buildBloomberg(); p != nil {
			s.pipelines = append(s.pipelines, p)
		}
	}

	return s.pipelines
}

// -----------------------------------------------------------------------------

func (s *Supervisor) network(name, fallback string) *timeframe.Network {
	if name == "" {
		name = fallback
	}
	cfg, ok := s.Config.NetworkByName(name)
	if !ok {
		s.Logger.Critical("Unknown timeframe network %q", name)
	}
	net, err := timeframe.BuildNetwork(cfg)
	if err != nil {
		s.Logger.Critical("Invalid timeframe network %q: %v", name, err)
	}
	return net
}

// -----------------------------------------------------------------------------

func (s *Supervisor) buildBinance() *Pipeline {
	cfg := s.Config.Sources.Binance
	if len(cfg.Symbols) == 0 {
		s.Logger.Warning("Binance selected but no symbols configured, skipping")
		return nil
	}

	net := s.network(cfg.Network, "intraday")
	log := logger.NewLogger(s.Config.LogLevel, "BinanceConnector")

	router := &tickRouter{aggregators: make(map[string]interfaces.IAggregator)}
	var aggs []interfaces.IAggregator
	ohlcAggs := make(map[string]*aggregate.OHLCAggregator)
	for _, sym := range cfg.Symbols {
		agg := aggregate.NewOHLCAggregator(sym, net, log)
		router.aggregators[sym] = agg
		ohlcAggs[sym] = agg
		aggs = append(aggs, agg)
	}

	adapter := &connector.BinanceAdapter{
		WSBase:  cfg.WSBase,
		Streams: cfg.Streams,
		Logger:  log,
	}

	conn := connector.NewSocketConnector("binance", adapter, &normalize.BinanceNormalizer{}, router, cfg.Symbols, connector.SocketOptions{
		PingInterval:  time.Duration(cfg.PingInterval) * time.Second,
		MaxReconnects: cfg.MaxReconnects,
		BackoffBase:   time.Duration(cfg.BackoffBaseMs) * time.Millisecond,
	}, log)

	p := &Pipeline{Name: "binance", Connector: conn, Aggregators: aggs, Network: net}

	if cfg.PreloadHistory {
		loader := &connector.HistoryLoader{
			RESTBase: cfg.RESTBase,
			Network:  s.NetMgr,
			Logger:   log,
			Target:   s.Config.Dispatch.RowCount - 1,
		}
		p.Preload = func(ctx context.Context) {
			for _, agg := range ohlcAggs {
				loader.Preload(ctx, agg, net)
			}
		}
	}

	return p
}

// -----------------------------------------------------------------------------

func (s *Supervisor) buildPolygon() *Pipeline {
	cfg := s.Config.Sources.Polygon
	if cfg.APIKey == "" {
		s.Logger.Warning("Polygon selected but POLYGON_API_KEY is not set, skipping")
		return nil
	}
	if len(cfg.Symbols) == 0 {
		s.Logger.Warning("Polygon selected but no symbols configured, skipping")
		return nil
	}

	net := s.network(cfg.Network, "intraday")
	log := logger.NewLogger(s.Config.LogLevel, "PolygonConnector")

	router := &tickRouter{aggregators: make(map[string]interfaces.IAggregator)}
	var aggs []interfaces.IAggregator
	for _, sym := range cfg.Symbols {
		agg := aggregate.NewOHLCAggregator(sym, net, log)
		router.aggregators[sym] = agg
		aggs = append(aggs, agg)
	}

	scheduler := utils.NewMarketScheduler(cfg.Symbols, logger.NewLogger(s.Config.LogLevel, "MarketScheduler"))

	adapter := &connector.PolygonAdapter{
		WSBase:            cfg.WSBase,
		RESTBase:          cfg.RESTBase,
		APIKey:            cfg.APIKey,
		Logger:            log,
		BackfillEnabled:   cfg.BackfillEnabled,
		BackfillThreshold: time.Duration(cfg.BackfillThreshold) * time.Second,
		Network:           s.NetMgr,
		Sink:              router,
		MarketOpen:        scheduler.AnyMarketOpen,
		SymbolsSource:     func() []string { return cfg.Symbols },
	}

	conn := connector.NewSocketConnector("polygon", adapter, &normalize.PolygonNormalizer{}, router, cfg.Symbols, connector.SocketOptions{
		PingInterval:  time.Duration(cfg.PingInterval) * time.Second,
		MaxReconnects: cfg.MaxReconnects,
		BackoffBase:   time.Duration(cfg.BackoffBaseMs) * time.Millisecond,
		MarketOpen:    scheduler.AnyMarketOpen,
	}, log)

	return &Pipeline{Name: "polygon", Connector: conn, Aggregators: aggs, Network: net}
}

// -----------------------------------------------------------------------------

func (s *Supervisor) buildAccuWeather() *Pipeline {
	cfg := s.Config.Sources.AccuWeather
	if cfg.APIKey == "" {
		s.Logger.Warning("AccuWeather selected but ACCUWEATHER_API_KEY is not set, skipping")
		return nil
	}

	net := s.network(cfg.Network, "weather")
	log := logger.NewLogger(s.Config.LogLevel, "AccuWeatherConnector")

	symbol := cfg.Symbol
	if symbol == "" {
		symbol = "WEATHER-" + cfg.LocationKey
	}

	agg := aggregate.NewUnivariateAggregator(symbol, net, log)
	router := &tickRouter{aggregators: map[string]interfaces.IAggregator{symbol: agg}}

	normalizer := &normalize.AccuWeatherNormalizer{Symbol: symbol}
	conn := connector.NewPollingConnector("accuweather", cfg, s.NetMgr, normalizer, router, log)

	return &Pipeline{Name: "accuweather", Connector: conn, Aggregators: []interfaces.IAggregator{agg}, Network: net}
}

// -----------------------------------------------------------------------------

func (s *Supervisor) buildBloomberg() *Pipeline {
	cfg := s.Config.Sources.Bloomberg
	if len(cfg.Securities) == 0 {
		s.Logger.Warning("Bloomberg selected but no securities configured, skipping")
		return nil
	}

	net := s.network(cfg.Network, "intraday")
	log := logger.NewLogger(s.Config.LogLevel, "BloombergConnector")

	router := &tickRouter{aggregators: make(map[string]interfaces.IAggregator)}
	var aggs []interfaces.IAggregator
	for _, security := range cfg.Securities {
		agg := aggregate.NewOHLCAggregator(security, net, log)
		router.aggregators[security] = agg
		aggs = append(aggs, agg)
	}

	conn := connector.NewSessionConnector("bloomberg", cfg, &normalize.BloombergNormalizer{}, router, log)

	return &Pipeline{Name: "bloomberg", Connector: conn, Aggregators: aggs, Network: net}
}

// -----------------------------------------------------------------------------
// Run
// -----------------------------------------------------------------------------

// Run starts every pipeline and blocks until an interrupt or terminate
// signal arrives, then shuts down gracefully.
func (s *Supervisor) Run() {
	if len(s.pipelines) == 0 {
		s.BuildPipelines()
	}
	if len(s.pipelines) == 0 {
		s.Logger.Critical("No runnable pipelines for connector selector %q", s.Config.Connector)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Finalized records stream to the dashboard.
	for _, p := range s.pipelines {
		for _, agg := range p.Aggregators {
			symbol := agg.Symbol()
			agg.OnComplete(func(record models.MRecord, label string) {
				s.Server.PublishRecord(symbol, label, record)
			})
		}
	}

	started := make([]*Pipeline, 0, len(s.pipelines))
	for _, p := range s.pipelines {
		if err := p.Connector.Init(); err != nil {
			s.Logger.Warning("Pipeline %s failed init, skipping: %v", p.Name, err)
			continue
		}

		if p.Preload != nil {
			p.Preload(ctx)
		}

		if err := p.Connector.Connect(ctx); err != nil {
			s.Logger.Error("Pipeline %s failed to connect: %v", p.Name, err)
			continue
		}

		started = append(started, p)
		s.startHealthLoop(ctx, p)
		s.startDispatchLoop(ctx, p)
		s.Logger.Info("Pipeline %s started (%d aggregators, network %s)", p.Name, len(p.Aggregators), p.Network.Name)
	}

	if len(started) == 0 {
		s.Logger.Critical("No pipeline could be started")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	s.Logger.Info("Shutting down...")
	cancel()
	s.shutdown(started)
}

// -----------------------------------------------------------------------------

func (s *Supervisor) startHealthLoop(ctx context.Context, p *Pipeline) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(healthInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snap := p.Connector.Health()
				s.Server.UpdateHealth(snap)
				s.Logger.Info("Health %s: status=%s errors=%d uptime=%ds",
					snap.Source, snap.Status, snap.ErrorCount, snap.UptimeMs/1000)
			}
		}
	}()
}

// -----------------------------------------------------------------------------

// startDispatchLoop submits each full buffer to the causal API on the
// configured cadence. Dispatches are independent per timeframe; one
// failure never affects the others.
func (s *Supervisor) startDispatchLoop(ctx context.Context, p *Pipeline) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		interval := time.Duration(s.Config.Dispatch.IntervalSeconds) * time.Second
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.dispatchAll(ctx, p)
			}
		}
	}()
}

func (s *Supervisor) dispatchAll(ctx context.Context, p *Pipeline) {
	for _, agg := range p.Aggregators {
		for _, tf := range p.Network.Timeframes {
			buf := agg.Buffer(tf.Label)
			if buf == nil {
				continue
			}

			sig, err := s.Dispatcher.Send(ctx, buf, tf, agg.Univariate(), agg.Symbol())
			if err != nil || sig == nil {
				continue
			}

			s.Logger.Info("Chain signal %s/%s: %d at %s",
				sig.Symbol, sig.Timeframe, sig.ChainDetected, sig.Datetime.Format(time.RFC3339))

			if err := s.Recorder.SaveChainSignal(*sig); err != nil {
				s.Logger.Warning("Failed to record chain signal: %v", err)
			}
			s.Server.PublishSignal(*sig)
		}
	}
}

// -----------------------------------------------------------------------------

// shutdown drains aggregators and closes connectors, best-effort.
func (s *Supervisor) shutdown(started []*Pipeline) {
	for _, p := range started {
		for _, agg := range p.Aggregators {
			agg.ForceFinalizeAll()
		}
	}

	for _, p := range started {
		if err := p.Connector.Shutdown(); err != nil {
			s.Logger.Error("Shutdown of %s failed: %v", p.Name, err)
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.Logger.Warning("Timed out waiting for background loops")
	}

	if err := s.Recorder.Close(); err != nil {
		s.Logger.Warning("Recorder close failed: %v", err)
	}
	if err := s.Server.Stop(); err != nil {
		s.Logger.Warning("Status server stop failed: %v", err)
	}

	s.Logger.Info("Shutdown complete")
}
