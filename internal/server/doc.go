// Package server provides the HTTP front of the application server.
//
// Architecture:
//   - RouteProvider: modes implement this to contribute routes
//   - Manager: combines RouteProviders into one gin router and http.Server
//   - EngineProvider: websocket upgrades into the engine, plus /metrics
//
// Every router also serves /health and /status. /status reports the run
// mode and, when an engine is attached, its connection and service counts.
//
// Usage:
//
//	mgr := server.NewManager(&server.ServerConfig{
//	    Address:      "0.0.0.0",
//	    Port:         8080,
//	    CORS:         cfg.HTTP.CORS,
//	    LoggingLevel: cfg.Logging.Level,
//	    Mode:         cfg.Mode,
//	    Engine:       srv,
//	}, logger)
//	mgr.AddProvider(server.NewEngineProvider(srv, opts, logger))
//	mgr.Start(ctx)
package server
