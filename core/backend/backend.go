// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
//
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/segmentio/kafka-go"

	"github.com/relabs-tech/qvarn/core/access"
	"github.com/relabs-tech/qvarn/core/backend/blobstore"
	"github.com/relabs-tech/qvarn/core/csql"
	"github.com/relabs-tech/qvarn/core/logger"
	"github.com/relabs-tech/qvarn/core/registry"
)

// Backend is the generic resource service. It serves a REST API for a
// configured set of resource types, with search, sub-resources, file
// attachments and change notifications.
type Backend struct {
	config               Configuration
	db                   *csql.DB
	router               *mux.Router
	typesByPath          map[string]*resourceType
	resourceTypes        []*resourceType
	listenerType         *resourceType
	blobStore            blobstore.Driver
	authorizationEnabled bool

	kafkaWriter       *kafka.Writer
	outboxTable       string
	outboxTrigger     chan bool
	outboxUpdateQuery string
	outboxDeleteQuery string
	closed            chan bool
	pumpDone          sync.WaitGroup

	// Registry is the persistent key-value registry of this backend's
	// database schema.
	Registry registry.Registry
}

// Builder is a builder helper for the Backend
type Builder struct {
	// Config is the JSON description of all resource types. This is mandatory.
	Config string
	// DB is a postgres database. This is mandatory.
	DB *csql.DB
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// KafkaBrokers is the list of Kafka brokers to produce change
	// notifications to. If the list is empty, no notifications are
	// produced and no outbox is maintained.
	KafkaBrokers []string
	// OutboxTableName is the name of the table buffering outgoing Kafka
	// notifications. Optional, defaults to DefaultOutboxTableName.
	OutboxTableName string
	// AuthorizationEnabled enables the scope checks on all resource
	// routes. Without it any caller can do anything, which is what you
	// want in unit tests and nowhere else.
	AuthorizationEnabled bool
	// UpdateSchema forces the creation of the database tables on startup.
	// Without it, tables are only created when the configuration differs
	// from the one the backend was last started with.
	UpdateSchema bool
	// BlobStore stores file attachments outside the database. Optional,
	// without it file attachments are stored as database blobs.
	BlobStore blobstore.Driver
}

// New realizes the actual backend. It validates the configuration, creates
// the sql tables (if they do not exist) and adds all resource routes to the
// passed router.
//
// New panics on invalid configuration. A backend that cannot come up
// correctly should not come up at all.
func New(bb *Builder) *Backend {
	config, err := parseConfiguration(bb.Config)
	if err != nil {
		panic(err)
	}

	if bb.DB == nil {
		panic("DB is missing")
	}

	if bb.Router == nil {
		panic("Router is missing")
	}

	listenerType, err := newResourceType(listenerDefinition)
	if err != nil {
		panic(err)
	}
	listenerType.builtin = true

	b := &Backend{
		config:               config,
		db:                   bb.DB,
		router:               bb.Router,
		typesByPath:          map[string]*resourceType{},
		listenerType:         listenerType,
		blobStore:            bb.BlobStore,
		authorizationEnabled: bb.AuthorizationEnabled,
		outboxTable:          bb.OutboxTableName,
		Registry:             registry.New(bb.DB),
	}
	if b.outboxTable == "" {
		b.outboxTable = DefaultOutboxTableName
	}

	for _, def := range config.ResourceTypes {
		rt, err := newResourceType(def)
		if err != nil {
			panic(err)
		}
		if rt.name == listenerType.name {
			panic(fmt.Sprintf("resource type name \"%s\" is reserved", rt.name))
		}
		if _, ok := b.typesByPath[rt.path]; ok {
			panic(fmt.Sprintf("duplicate resource type path \"%s\"", rt.path))
		}
		b.typesByPath[rt.path] = rt
		b.resourceTypes = append(b.resourceTypes, rt)
	}

	// skip the schema update if this exact configuration is already in place
	accessor := b.Registry.Accessor("qvarn")
	var storedConfig string
	if _, err := accessor.Read("resource-types", &storedConfig); err != nil {
		panic(err)
	}
	if bb.UpdateSchema || storedConfig != bb.Config {
		b.createStorage(b.listenerType)
		for _, rt := range b.resourceTypes {
			b.createStorage(rt)
		}
		if err := accessor.Write("resource-types", bb.Config); err != nil {
			panic(err)
		}
	}

	if len(bb.KafkaBrokers) > 0 {
		b.kafkaWriter = &kafka.Writer{
			Addr:         kafka.TCP(bb.KafkaBrokers...),
			Topic:        ResourceNotificationTopic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		}
		b.handleOutbox()
		b.outboxTrigger = make(chan bool, 1)
		b.closed = make(chan bool)
		b.pumpDone.Add(1)
		go b.outboxPump()
		// pick up outbox entries left over from a previous run
		b.triggerNotification()
	}

	b.handleCORS()
	b.handleCompression()
	b.handleVersion(b.router)
	b.handleListenerRoutes(b.router)
	b.handleResourceRoutes(b.router)

	return b
}

// Close stops the notification pump and closes the Kafka producer. The
// database belongs to the caller and remains open.
func (b *Backend) Close() {
	if b.kafkaWriter == nil {
		return
	}
	close(b.closed)
	b.pumpDone.Wait()
	if err := b.kafkaWriter.Close(); err != nil {
		logger.Default().WithError(err).Errorln("Error 4648: cannot close kafka writer")
	}
}

// authorized verifies that the request carries an authorization with one of
// the requested scopes. On failure it writes the error response and returns
// false. When authorization is disabled, every request passes.
func (b *Backend) authorized(w http.ResponseWriter, r *http.Request, scopes ...string) bool {
	if !b.authorizationEnabled {
		return true
	}
	return access.Authorized(w, r, scopes...)
}
