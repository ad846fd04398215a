// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package comm

import "github.com/kraklabs/kidmon/pkg/wire"

// Authorizer validates an auth message's shared token, grounded on the
// reference AuthorizationHandler (kidmon/server/handler/AuthorizationHandler).
type Authorizer interface {
	Authorize(username, token string) bool
}

// AuthorizerFunc adapts a plain function to an Authorizer.
type AuthorizerFunc func(username, token string) bool

func (f AuthorizerFunc) Authorize(username, token string) bool { return f(username, token) }

// StaticTokenAuthorizer accepts any username whose token matches Token.
// This is the direct analogue of AuthorizationHandler::setToken — the
// source checks one shared secret, not per-user credentials.
type StaticTokenAuthorizer struct {
	Token string
}

func (a StaticTokenAuthorizer) Authorize(_, token string) bool {
	return a.Token != "" && token == a.Token
}

// DataSink persists one application Entry, grounded on the reference
// IDataStorage interface (kidmon/server/handler/DataHandler.h).
type DataSink interface {
	Add(username string, entry wire.Entry) error
}

// DataSinkFunc adapts a plain function to a DataSink.
type DataSinkFunc func(username string, entry wire.Entry) error

func (f DataSinkFunc) Add(username string, entry wire.Entry) error { return f(username, entry) }
