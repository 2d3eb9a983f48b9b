/*
Package backend implements the schema-driven resource backend

A backend manages a Postgres-SQL database and provides an auto-generated RESTful
JSON API for it. The API is described entirely by resource type definitions; the
backend creates the storage, the routes, the validation and the change
notifications from those definitions.

Configuration

The configuration is a single JSON document with a list of resource type
definitions. Each definition names the type, optionally the URL path of its
collection, and a list of versions. The last version is the active one.

Example:
  {
	"resource_types": [
	  {
		"type": "person",
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
				  "sort_key": ""
				}
			  ]
			},
			"subpaths": {
			  "private": {
				"prototype": {
				  "date_of_birth": ""
				}
			  }
			},
			"files": ["photo"]
		  }
		]
	  }
	]
  }

The example creates one resource type "person". Its collection is served under
"/persons"; when a definition carries no explicit "path", the pluralized type
name is used. The person has a private sub-document "private" and a binary
attachment "photo".

This configuration creates the following REST routes:
	GET /persons
	POST /persons
	GET /persons/{id}
	PUT /persons/{id}
	DELETE /persons/{id}
	GET /persons/{id}/private
	PUT /persons/{id}/private
	GET /persons/{id}/photo
	PUT /persons/{id}/photo
	GET /persons/search/{condition}
	GET /persons/listeners
	POST /persons/listeners
	GET /persons/listeners/{listener_id}
	PUT /persons/listeners/{listener_id}
	DELETE /persons/listeners/{listener_id}
	GET /persons/listeners/{listener_id}/notifications
	GET /persons/listeners/{listener_id}/notifications/{notification_id}
	DELETE /persons/listeners/{listener_id}/notifications/{notification_id}

plus a global
	GET /version

We can now create a person with a simple POST:
  curl http://localhost:3000/persons -d'{"names":[{"full_name":"Alfred Pennyworth","sort_key":"Pennyworth"}]}'
  {
	"id": "0035-6f0e26c9a0f64f95a43a223344d1a8b0-98fbebce",
	"type": "person",
	"revision": "0035-d4a1b8e3b34f4c129cd6f0a92a6de111-912a7a37",
	"names": [
	  {
		"full_name": "Alfred Pennyworth",
		"sort_key": "Pennyworth"
	  }
	]
  }

The response carries a Location header with the path of the new resource.
Identifiers are minted by the backend: a type prefix, a random part and a
checksum. The prefix makes it obvious in logs which type an identifier belongs
to, and the checksum lets the backend reject garbage identifiers without a
database lookup.

Prototypes and Validation

A prototype is an example document. Every scalar in it stands in for the
expected type of that field: "" for strings, 0 or 0.5 for numbers, false for
booleans. A list carries a single element which describes the items of the
list. Incoming documents are validated against the prototype; a type mismatch
is answered with 400 and an error body naming the offending field. Fields that
do not occur in the prototype are silently dropped. Fields the client did not
send stay absent, the backend stores what was sent and nothing else.

Revisions

Every resource carries the read-only fields "id", "type" and "revision". The
revision changes with every update. A PUT request must carry the revision the
client last read; if the stored resource has moved on in the meantime, the
update is rejected with 409 and a body naming both revisions:
  {
	"error_code": "WrongRevision",
	"item_id": "0035-6f0e26c9a0f64f95a43a223344d1a8b0-98fbebce",
	"current": "0035-41c29de9...",
	"update": "0035-d4a1b8e3...",
	"message": "..."
  }

The client then re-reads, reapplies its change and retries. Writing a
sub-document or a file also assigns the parent resource a new revision, so a
single revision check covers the entire resource with all of its parts.

Sub-Resources

Subpaths split a resource into separately retrievable documents. They follow
the same prototype validation and the same revision protocol as the parent.
Reading a subpath that was never written returns an empty document with the
parent's current revision. Deleting the parent deletes all of its
sub-documents and files.

Files

Files are binary attachments served as-is. A PUT takes the payload in the
request body, the parent revision in the "Revision" header and the content
type in the "Content-Type" header:
  curl -X PUT http://localhost:3000/persons/0035-6f0e.../photo \
	-H "Revision: 0035-41c29de9..." -H "Content-Type: image/jpeg" \
	--data-binary @photo.jpg
  {
	"id": "0035-6f0e26c9a0f64f95a43a223344d1a8b0-98fbebce",
	"revision": "0035-b02c771e..."
  }

A GET returns the stored bytes with the "Content-Type" and current "Revision"
headers. Where the files are kept is decided by the BlobStore driver passed at
construction time; small installations store them in the database, larger ones
in S3.

Searches

The search route encodes the entire query in the URL path, as a sequence of
conditions followed by result directives:
	GET /persons/search/exact/country/FI
	GET /orgs/search/startswith/names/Ab/show/names
	GET /readings/search/gt/integer/2/sort/integer/offset/1/limit/10

The operators are "exact", "startswith", "contains", "ge", "gt", "le", "lt"
and "ne". Conditions can be chained and all must match. String matching is
case-insensitive. A condition names any field that occurs anywhere in the
type's prototypes, including inside lists and sub-documents.

By default the result is a list of matching ids. The directive "show" adds the
named field to each result, "show_all" returns the full resources, "sort"
orders by a field, and "offset" and "limit" page through the result list. A
malformed condition is answered with 400 and a message naming the offending
piece.

Listeners and Notifications

Listeners subscribe to changes of one resource type. A listener resource has
three writable fields:
	"notify_of_new"  notify about resources created after the listener
	"notify_on_all"  notify about changes to all resources of the type
	"listen_on"      list of resource ids to follow

A created, updated or deleted resource produces a notification for every
interested listener. Notifications are retrieved from the listener's
notification collection, ordered by the time of the change:
  curl http://localhost:3000/persons/listeners/5c36-9071.../notifications/0035-fda0...
  {
	"type": "notification",
	"id": "0035-fda0...",
	"revision": "0035-fda0...",
	"resource_id": "0035-6f0e...",
	"resource_revision": "0035-b02c...",
	"resource_change": "created"
  }

For a deleted resource, "resource_revision" is null. A notification is
acknowledged by deleting it; acknowledged notifications disappear from the
collection. Deleting a listener stops the delivery.

Kafka

When the builder is given Kafka brokers, every change is additionally
published to the "resource_notification" topic. Delivery uses a transactional
outbox: the notification is written to an outbox table in the same database
transaction as the resource change itself, and a pump publishes and clears
the outbox afterwards. A change that is committed is therefore eventually
published, and a change that is rolled back never is. Messages are keyed by
resource id, so all changes of one resource go to the same partition and
arrive in order. Each message carries a "request_id" header with the log
request id of the request that caused the change, so a consumer can
correlate notifications with the service logs.

Fine-Grained Access Control

If AuthorizationEnabled is set to true, every route requires a bearer token
and a route-specific scope. The scope names are derived from the collection
path and the operation:
	uapi_persons_get                    GET /persons
	uapi_persons_post                   POST /persons
	uapi_persons_id_get                 GET /persons/{id}
	uapi_persons_id_put                 PUT /persons/{id}
	uapi_persons_id_delete              DELETE /persons/{id}
	uapi_persons_search_id_get          GET /persons/search/...
	uapi_persons_private_id_get         GET /persons/{id}/private
	uapi_persons_private_id_put         PUT /persons/{id}/private
	uapi_persons_listeners_post         POST /persons/listeners
	uapi_persons_listeners_id_notifications_get   GET .../notifications

A request without a token is answered with 401, a token without the required
scope with 403. The scope check happens before anything else, so an
unauthorized caller cannot probe which resource types or ids exist. The
"/version" route is the only one served without authorization.

Configuration Updates

On startup the backend compares the configuration against the one stored in
the database and touches the storage only when they differ: new resource
types get their tables, new subpaths get their columns on the existing
tables. Existing data survives an update. Documents are returned exactly as
they were stored, fields added to a prototype later show up only after the
resource is written again.
*/
package backend
