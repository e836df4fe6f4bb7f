/*
 *  Copyright (c) 2024 Helios Labs, Inc. All Rights Reserved.
 */
package server

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/Helios-Labs/kfdhost/pkg/errors"
	"github.com/Helios-Labs/kfdhost/pkg/logger"
	"github.com/Helios-Labs/kfdhost/pkg/task"
)

var (
	ErrInvalidPort = errors.New("server: address does not contain a valid port")
)

type Endpoint struct {
	Name    string
	Methods []string
	Path    string
	Handler http.Handler
}

type Server struct {
	url url.URL

	port int

	root      *mux.Router
	handler   http.Handler
	tlsConfig *tls.Config

	endpoints []Endpoint
}

func NewServer(address string, tlsConfig *tls.Config) (*Server, error) {
	url := url.URL{
		Host: address,
	}

	portStr := url.Port()
	if portStr == "" {
		if tlsConfig != nil {
			portStr = "443"
		} else {
			portStr = "80"
		}
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, ErrInvalidPort
	}

	// Enable CORS
	cors := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodOptions,
			http.MethodHead,
		},

		AllowedHeaders: []string{
			"*",
		},
	})

	root := mux.NewRouter().StrictSlash(true)
	root.Use(logger.Middleware)
	handler := cors.Handler(root)

	server := &Server{
		url:       url,
		port:      port,
		root:      root,
		handler:   handler,
		tlsConfig: tlsConfig,
	}

	server.AddEndpointFunc("GET", "/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return server, nil
}

func (server *Server) Port() int {
	return server.port
}

func (server *Server) AddEndpointFunc(method string, path string, fn http.HandlerFunc) {
	server.AddEndpoint(Endpoint{
		Methods: []string{method},
		Path:    path,
		Handler: fn,
	})
}

func (server *Server) AddEndpointHandler(method string, path string, handler http.Handler) {
	server.AddEndpoint(Endpoint{
		Methods: []string{method},
		Path:    path,
		Handler: handler,
	})
}

func (server *Server) AddEndpoint(endpoint Endpoint) {
	server.endpoints = append(server.endpoints, endpoint)
}

func (server *Server) Run(group task.Group) error {
	for _, endpoint := range server.endpoints {
		server.root.Methods(endpoint.Methods...).Path(endpoint.Path).Handler(endpoint.Handler)
	}

	httpServer := http.Server{
		BaseContext: func(_ net.Listener) context.Context {
			return group.Ctx()
		},
		Addr:      server.url.Host,
		Handler:   server.handler,
		TLSConfig: server.tlsConfig,
	}

	group.GoFn("HTTP Listen", func(group task.Group) error {
		var err error
		if server.tlsConfig != nil {
			err = httpServer.ListenAndServeTLS("", "")
		} else {
			err = httpServer.ListenAndServe()
		}

		if err == http.ErrServerClosed {
			return nil
		}

		return err
	})

	group.GoFn("HTTP Shutdown", func(group task.Group) error {
		<-group.Ctx().Done()

		return httpServer.Shutdown(context.Background())
	})

	return nil
}
