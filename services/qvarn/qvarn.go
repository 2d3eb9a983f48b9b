// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package main

import (
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/joeshaw/envdecode"
	"github.com/sirupsen/logrus"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"

	"github.com/relabs-tech/qvarn/core/access"
	"github.com/relabs-tech/qvarn/core/backend"
	"github.com/relabs-tech/qvarn/core/backend/blobstore"
	"github.com/relabs-tech/qvarn/core/csql"
	"github.com/relabs-tech/qvarn/core/logger"
)

// configurationJSON is the built-in set of resource types, served when no
// RESOURCE_TYPES_PATH is configured.
var configurationJSON string = `
{
	"resource_types": [
	  {
		"type": "org",
		"path": "orgs",
		"versions": [
		  {
			"version": "v1",
			"prototype": {
			  "id": "",
			  "type": "",
			  "revision": "",
			  "names": [""],
			  "country": "",
			  "gov_org_ids": [
				{
				  "country": "",
				  "org_id_type": "",
				  "gov_org_id": ""
				}
			  ],
			  "contacts": [
				{
				  "contact_type": "",
				  "contact_roles": [""],
				  "country": ""
				}
			  ]
			}
		  }
		]
	  },
	  {
		"type": "person",
		"path": "persons",
		"versions": [
		  {
			"version": "v1",
			"prototype": {
			  "id": "",
			  "type": "",
			  "revision": "",
			  "names": [
				{
				  "full_name": "",
				  "sort_key": "",
				  "given_names": [""],
				  "surnames": [""]
				}
			  ],
			  "gluu_user_id": ""
			},
			"subpaths": {
			  "private": {
				"prototype": {
				  "date_of_birth": "",
				  "gov_ids": [
					{
					  "country": "",
					  "id_type": "",
					  "gov_id": ""
					}
				  ],
				  "contacts": [
					{
					  "contact_type": "",
					  "contact_roles": [""],
					  "country": ""
					}
				  ]
				}
			  }
			},
			"files": ["photo"]
		  }
		]
	  },
	  {
		"type": "contract",
		"path": "contracts",
		"versions": [
		  {
			"version": "v1",
			"prototype": {
			  "id": "",
			  "type": "",
			  "revision": "",
			  "contract_type": "",
			  "preferred_language": "",
			  "contract_parties": [
				{
				  "type": "",
				  "role": "",
				  "resource_id": ""
				}
			  ]
			}
		  }
		]
	  }
	]
}
`

// Service holds the configuration for this service
//
// use POSTGRES="host=localhost port=5432 user=postgres dbname=postgres sslmode=disable"
// and POSTRGRES_PASSWORD="docker"
type Service struct {
	Postgres          string `env:"POSTGRES,required" description:"the connection string for the Postgres DB without password"`
	PostgresPassword  string `env:"POSTGRES_PASSWORD,optional" description:"password to the Postgres DB"`
	PostgresSchema    string `env:"POSTGRES_SCHEMA,default=qvarn" description:"the database schema for all generated tables"`
	ResourceTypesPath string `env:"RESOURCE_TYPES_PATH,optional" description:"directory with resource type definitions as *.json files. The built-in definitions are used when unset"`
	UpdateSchema      bool   `env:"UPDATE_SCHEMA,optional" description:"force the creation of the database tables on startup"`
	KafkaBrokers      string `env:"KAFKA_BROKERS,optional" description:"comma separated list of Kafka brokers for change notifications. No notifications are produced when unset"`
	TokenIssuer       string `env:"TOKEN_ISSUER,optional" description:"the issuer of accepted bearer tokens. Authorization is disabled when unset"`
	TokenSigningKey   string `env:"TOKEN_SIGNING_KEY,optional" description:"the RSA public key to verify bearer tokens, PEM or ssh-rsa format"`
	BlobStorePath     string `env:"BLOB_STORE_PATH,optional" description:"base path for file attachments on the local filesystem"`
	AWSRegion         string `env:"AWS_REGION,optional" description:"AWS region of the S3 bucket for file attachments"`
	AWSBucketName     string `env:"AWS_BUCKET_NAME,optional" description:"S3 bucket for file attachments. Takes precedence over BLOB_STORE_PATH"`
	AWSAccessID       string `env:"AWS_ACCESS_ID,optional" description:"access id for the S3 bucket"`
	AWSAccessKey      string `env:"AWS_ACCESS_KEY,optional" description:"access key for the S3 bucket"`
	Port              string `env:"PORT,default=3000" description:"the port to listen on"`
	LogLevel          string `env:"LOG_LEVEL,default=info" description:"The level used for logger, can be debug, warning, info, error"`
}

// loadConfiguration assembles the backend configuration from all *.json
// files in dir, in lexical file order.
func loadConfiguration(dir string) (string, error) {
	if dir == "" {
		return configurationJSON, nil
	}
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return "", err
	}
	var config struct {
		ResourceTypes []json.RawMessage `json:"resource_types"`
	}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		config.ResourceTypes = append(config.ResourceTypes, json.RawMessage(data))
	}
	data, err := json.Marshal(config)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func main() {
	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}

	level, err := logrus.ParseLevel(service.LogLevel)
	if err != nil {
		panic(err)
	}
	logger.InitLogger(level)

	config, err := loadConfiguration(service.ResourceTypesPath)
	if err != nil {
		panic(err)
	}

	db := csql.OpenWithSchema(service.Postgres, service.PostgresPassword, service.PostgresSchema)
	defer db.Close()

	blobConfig := blobstore.Configuration{}
	switch {
	case service.AWSBucketName != "":
		blobConfig.DriverType = blobstore.DriverTypeAWSS3
		blobConfig.S3Configuration = &blobstore.S3Configuration{
			AWSRegion:     service.AWSRegion,
			AWSBucketName: service.AWSBucketName,
			AccessID:      service.AWSAccessID,
			AccessKey:     service.AWSAccessKey,
		}
	case service.BlobStorePath != "":
		blobConfig.DriverType = blobstore.DriverTypeLocal
		blobConfig.LocalConfiguration = &blobstore.LocalConfiguration{
			BasePath: service.BlobStorePath,
		}
	}
	blobStore, err := blobstore.NewDriver(blobConfig)
	if err != nil {
		panic(err)
	}

	router := mux.NewRouter()
	logger.AddRequestID(router)

	authorizationEnabled := service.TokenIssuer != "" && service.TokenSigningKey != ""
	if authorizationEnabled {
		router.Use(access.NewBearerMiddleware(&access.BearerMiddlewareBuilder{
			Issuer:     service.TokenIssuer,
			SigningKey: service.TokenSigningKey,
		}))
		access.HandleAuthTokenRoute(router, service.TokenIssuer)
		access.HandleAuthorizationRoute(router)
	}

	var brokers []string
	if service.KafkaBrokers != "" {
		brokers = strings.Split(service.KafkaBrokers, ",")
	}

	b := backend.New(&backend.Builder{
		Config:               config,
		DB:                   db,
		Router:               router,
		KafkaBrokers:         brokers,
		AuthorizationEnabled: authorizationEnabled,
		UpdateSchema:         service.UpdateSchema,
		BlobStore:            blobStore,
	})
	defer b.Close()

	log.Println("listen on port :" + service.Port)
	http.ListenAndServe(":"+service.Port, router)
}
