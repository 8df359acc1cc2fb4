/*
Package httpserver runs the ledger factory HTTP API.

The server mounts the routes of an api handler next to health and diagnostic
endpoints, and optionally serves prometheus metrics on a separate address.

# Endpoints

  - The factory API, see package factoryhandler
  - GET /livez - Liveness check
  - GET /readyz - Readiness check
  - GET /drain - Mark the server as not ready
  - GET /undrain - Mark the server as ready
  - /debug/* - pprof, when EnablePprof is set

# Example Usage

	cfg := &httpserver.HTTPServerConfig{
		ListenAddr:               ":8080",
		MetricsAddr:              ":8090",
		Log:                      logger,
		DrainDuration:            30 * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             60 * time.Second,
	}

	server, err := httpserver.New(cfg, factoryhandler.NewHandler(service, api.NewAuthenticator(api.DefaultSignatureWindow), logger))
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	server.RunInBackground()
	defer server.Shutdown()
*/
package httpserver
