package apiserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/agentstudio/tunnel-proxy/pkg/backend"
	"github.com/agentstudio/tunnel-proxy/pkg/version"
	ghandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type apiServer struct {
	ctx  context.Context
	log  *logrus.Entry
	port int
}

func NewAPIServer(ctx context.Context, log *logrus.Entry, port int) *apiServer {
	return &apiServer{
		ctx:  ctx,
		log:  log,
		port: port,
	}
}

// newRouter builds the full route tree. Split out of Start so tests can
// exercise the exact production routing and middleware.
func newRouter(log *logrus.Entry, b backend.Backend, apiKeys []string) (http.Handler, error) {
	router := mux.NewRouter().StrictSlash(true)
	router.Use(loggingMiddleware(log))
	h := newHandler(b)

	// Unauthenticated service/version probes.
	router.Path("/").Methods(http.MethodGet).HandlerFunc(h.root)
	router.Path("/healthz").Methods(http.MethodGet).HandlerFunc(h.root)

	auth, err := apiKeyMiddleware(apiKeys)
	if err != nil {
		return nil, err
	}

	api := router.PathPrefix("/api").Subrouter()
	api.Use(auth)

	api.Path("/subdomain/create").Methods(http.MethodPost).HandlerFunc(h.create)
	api.Path("/subdomain/check/{subdomain}").Methods(http.MethodGet).HandlerFunc(h.check)
	// list must be registered before the {subdomain} wildcard below
	api.Path("/subdomain/list").Methods(http.MethodGet).HandlerFunc(h.list)
	api.Path("/subdomain/{subdomain}").Methods(http.MethodGet).HandlerFunc(h.get)
	api.Path("/subdomain/{subdomain}").Methods(http.MethodDelete).HandlerFunc(h.delete)

	// Note: this allows not found urls to be logged via the middleware.
	// It **HAS** to be defined after all other paths are defined.
	router.NotFoundHandler = router.NewRoute().HandlerFunc(http.NotFound).GetHandler()

	return ghandlers.CORS()(router), nil
}

func (a *apiServer) Start(b backend.Backend, apiKeys []string) error {
	logrus.Infof("Version: %s", version.Get())

	handler, err := newRouter(a.log, b, apiKeys)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.port),
		Handler: handler,
	}

	go func() {
		a.log.WithField("port", a.port).Info("starting api server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Fatalf("listen: %s\n", err)
		}
	}()

	go b.StartSweeperDaemon(a.ctx.Done())

	<-a.ctx.Done()

	a.log.Info("shutting down the api server gracefully")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		a.log.WithError(err).Error("unable to shutdown the api server gracefully")
		return err
	}

	return nil
}
