// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package client provides easy and fast access to the resource REST api

The client either talks to a real server via HTTP, or it talks directly to
a mux router without marshalling any HTTP. The router mode is the tool of
choice for unit tests, and for request handlers which need to call other
handlers to fulfill their task.
*/
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/qvarn/core/access"
)

// Client provides easy access to the resource REST API.
type Client struct {
	router     *mux.Router
	httpClient *http.Client
	url        string
	token      string
	auth       *access.Authorization
	ctx        context.Context

	defaultHeaders map[string]string
}

// NewWithRouter creates a client to make pseudo-REST requests to the backend,
// through the mux router.
//
// WithAuthorization() adds an authorization to the request context.
// WithContext() specifies a different base context all together.
func NewWithRouter(router *mux.Router) Client {
	return Client{
		router:         router,
		defaultHeaders: map[string]string{},
	}
}

// NewWithURL creates a client to make REST requests to the backend.
//
// WithToken adds an authorization token to the request header.
func NewWithURL(url string) Client {
	return Client{
		url:            url,
		httpClient:     &http.Client{Timeout: 20 * time.Second},
		defaultHeaders: map[string]string{},
	}
}

// WithHeader returns a new client with a default header added
func (c Client) WithHeader(key string, value string) Client {
	c.defaultHeaders[key] = value
	return c
}

// WithToken returns a new client with a bearer token for authorization
func (c Client) WithToken(token string) Client {
	c.token = token
	return c
}

// WithAuthorization returns a new client with a specific authorization
// (this works only directly against the mux router, for a normal client
// use WithToken())
func (c Client) WithAuthorization(auth *access.Authorization) Client {
	c.auth = auth
	return c
}

// WithScopes returns a new client with an authorization carrying the given
// scopes (this works only directly against the mux router, for a normal
// client use WithToken())
func (c Client) WithScopes(scopes ...string) Client {
	return c.WithAuthorization(&access.Authorization{Scopes: scopes})
}

// WithContext returns a new client with specific request context
func (c Client) WithContext(ctx context.Context) Client {
	c.ctx = ctx
	return c
}

// Context returns the request context of this client
func (c Client) Context() context.Context {
	ctx := c.ctx
	if c.ctx == nil {
		ctx = context.Background()
	}
	if c.auth != nil {
		ctx = access.ContextWithAuthorization(ctx, c.auth)
	}
	return ctx
}

// Resource addresses the collection of one resource type.
type Resource struct {
	client *Client
	path   string
}

// Resource returns a client for the resource type served under path
func (c Client) Resource(path string) Resource {
	return Resource{
		client: &c,
		path:   strings.Trim(path, "/"),
	}
}

// Path returns the collection path of this resource type
func (r Resource) Path() string {
	return "/" + r.path
}

// List gets the ids of all items of the collection.
//
// The operation corresponds to a GET request. Expects http.StatusOK as
// response, otherwise it will flag an error.
func (r Resource) List(result interface{}) (int, error) {
	return r.client.RawGet(r.Path(), result)
}

// Create creates a new item.
//
// The operation corresponds to a POST request. Expects http.StatusCreated
// as response, otherwise it will flag an error.
func (r Resource) Create(body interface{}, result interface{}) (int, error) {
	return r.client.RawPost(r.Path(), body, result)
}

// Search gets the ids - or fields, with show operators - of all items
// matching the condition.
//
// The operation corresponds to a GET request. Expects http.StatusOK as
// response, otherwise it will flag an error.
func (r Resource) Search(condition string, result interface{}) (int, error) {
	return r.client.RawGet(r.Path()+"/search/"+condition, result)
}

// Item returns a client for a single item of this resource type
func (r Resource) Item(id string) Item {
	return Item{r: r, id: id}
}

// Listeners returns a client for the listener collection of this
// resource type
func (r Resource) Listeners() Listeners {
	return Listeners{r: r}
}

// Listener returns a client for a single listener of this resource type
func (r Resource) Listener(id string) Listener {
	return Listener{r: r, id: id}
}

// Item addresses a single item in a collection.
type Item struct {
	r  Resource
	id string
}

// Path returns the path of this item
func (i Item) Path() string {
	return i.r.Path() + "/" + i.id
}

// Read reads the item.
//
// The operation corresponds to a GET request. Expects http.StatusOK as
// response, otherwise it will flag an error.
func (i Item) Read(result interface{}) (int, error) {
	return i.r.client.RawGet(i.Path(), result)
}

// Update replaces the item. The body must carry the current revision.
//
// The operation corresponds to a PUT request. Expects http.StatusOK as
// response, otherwise it will flag an error. In case of
// http.StatusConflict, the error body has been returned as result.
func (i Item) Update(body interface{}, result interface{}) (int, error) {
	return i.r.client.RawPut(i.Path(), body, result)
}

// Delete deletes the item.
//
// The operation corresponds to a DELETE request. Expects http.StatusOK as
// response, otherwise it will flag an error.
func (i Item) Delete() (int, error) {
	return i.r.client.RawDelete(i.Path())
}

// Subresource returns a client for a sub-resource of this item
func (i Item) Subresource(name string) Subresource {
	return Subresource{item: i, name: name}
}

// File returns a client for a file attachment of this item
func (i Item) File(name string) File {
	return File{item: i, name: name}
}

// Subresource addresses a named sub-resource of an item.
type Subresource struct {
	item Item
	name string
}

// Path returns the path of this sub-resource
func (s Subresource) Path() string {
	return s.item.Path() + "/" + s.name
}

// Read reads the sub-resource.
func (s Subresource) Read(result interface{}) (int, error) {
	return s.item.r.client.RawGet(s.Path(), result)
}

// Update replaces the sub-resource. The body must carry the current
// revision of the item.
func (s Subresource) Update(body interface{}, result interface{}) (int, error) {
	return s.item.r.client.RawPut(s.Path(), body, result)
}

// File addresses a file attachment of an item.
type File struct {
	item Item
	name string
}

// Path returns the path of this file
func (f File) Path() string {
	return f.item.Path() + "/" + f.name
}

// Read reads the file content. The response header carries the Revision of
// the item and the Content-Type the file was stored with.
func (f File) Read(blob *[]byte) (int, http.Header, error) {
	return f.item.r.client.RawGetBlobWithHeader(f.Path(), nil, blob)
}

// Update replaces the file content. The revision must be the current
// revision of the item, it travels in the Revision header.
func (f File) Update(blob []byte, contentType, revision string, result interface{}) (int, error) {
	header := map[string]string{}
	if contentType != "" {
		header["Content-Type"] = contentType
	}
	if revision != "" {
		header["Revision"] = revision
	}
	return f.item.r.client.RawPutBlob(f.Path(), header, blob, result)
}

// Listeners addresses the listener collection of a resource type.
type Listeners struct {
	r Resource
}

// Path returns the listener collection path
func (l Listeners) Path() string {
	return l.r.Path() + "/listeners"
}

// List gets the ids of all listeners of the resource type.
func (l Listeners) List(result interface{}) (int, error) {
	return l.r.client.RawGet(l.Path(), result)
}

// Create creates a new listener.
//
// The operation corresponds to a POST request. Expects http.StatusCreated
// as response, otherwise it will flag an error.
func (l Listeners) Create(body interface{}, result interface{}) (int, error) {
	return l.r.client.RawPost(l.Path(), body, result)
}

// Listener addresses a single listener of a resource type.
type Listener struct {
	r  Resource
	id string
}

// Path returns the path of this listener
func (l Listener) Path() string {
	return l.r.Path() + "/listeners/" + l.id
}

// Read reads the listener.
func (l Listener) Read(result interface{}) (int, error) {
	return l.r.client.RawGet(l.Path(), result)
}

// Update replaces the listener. The body must carry the current revision.
func (l Listener) Update(body interface{}, result interface{}) (int, error) {
	return l.r.client.RawPut(l.Path(), body, result)
}

// Delete deletes the listener and all its notifications.
func (l Listener) Delete() (int, error) {
	return l.r.client.RawDelete(l.Path())
}

// Notifications gets the ids of all pending notifications of this
// listener, in order of occurrence.
func (l Listener) Notifications(result interface{}) (int, error) {
	return l.r.client.RawGet(l.Path()+"/notifications", result)
}

// Notification returns a client for a single notification of this listener
func (l Listener) Notification(id string) Notification {
	return Notification{l: l, id: id}
}

// Notification addresses a single notification of a listener.
type Notification struct {
	l  Listener
	id string
}

// Path returns the path of this notification
func (n Notification) Path() string {
	return n.l.Path() + "/notifications/" + n.id
}

// Read reads the notification.
func (n Notification) Read(result interface{}) (int, error) {
	return n.l.r.client.RawGet(n.Path(), result)
}

// Delete acknowledges the notification and removes it from the listener's
// queue.
func (n Notification) Delete() (int, error) {
	return n.l.r.client.RawDelete(n.Path())
}

// RawGet gets the resource from path. Expects http.StatusOK as response,
// otherwise it will flag an error. Returns the actual http status code.
//
// The path can be extended with query strings.
//
// result can be map[string]interface{} or a raw *[]byte.
// result can be nil.
func (c Client) RawGet(path string, result interface{}) (int, error) {
	status, _, err := c.RawGetWithHeader(path, nil, result)
	return status, err
}

// RawGetWithHeader gets the resource from path. Expects http.StatusOK as
// response, otherwise it will flag an error. Returns the actual http status
// code and the response header.
//
// result can be map[string]interface{} or a raw *[]byte.
// result can be nil.
func (c Client) RawGetWithHeader(path string, header map[string]string, result interface{}) (int, http.Header, error) {
	r, _ := http.NewRequestWithContext(c.Context(), http.MethodGet, c.url+path, nil)
	for key, value := range c.defaultHeaders {
		r.Header.Add(key, value)
	}
	for key, value := range header {
		r.Header.Add(key, value)
	}

	status, resHeader, resBody, err := c.do(r)
	if err != nil {
		return status, resHeader, err
	}
	if status != http.StatusOK {
		return status, resHeader, fmt.Errorf("handler returned wrong status code: got %v want %v. Error: %s",
			status, http.StatusOK, strings.TrimSpace(string(resBody)))
	}

	if resBody != nil && result != nil {
		if raw, ok := result.(*[]byte); ok {
			*raw = resBody
		} else {
			err = json.Unmarshal(resBody, result)
		}
	}
	return status, resHeader, err
}

// RawGetBlobWithHeader gets a binary resource from path. Expects
// http.StatusOK as response, otherwise it will flag an error.
//
// Returns the actual http status code and the response header.
func (c Client) RawGetBlobWithHeader(path string, header map[string]string, blob *[]byte) (int, http.Header, error) {
	r, _ := http.NewRequestWithContext(c.Context(), http.MethodGet, c.url+path, nil)
	for key, value := range c.defaultHeaders {
		r.Header.Add(key, value)
	}
	for key, value := range header {
		r.Header.Add(key, value)
	}

	status, resHeader, resBody, err := c.do(r)
	if err != nil {
		return status, resHeader, err
	}
	if status != http.StatusOK {
		return status, resHeader, fmt.Errorf("handler returned wrong status code: got %v want %v. Error: %s",
			status, http.StatusOK, strings.TrimSpace(string(resBody)))
	}
	if resBody != nil {
		*blob = resBody
	}
	return status, resHeader, nil
}

// RawPost posts a resource to path. Expects http.StatusCreated or
// http.StatusOK as response, otherwise it will flag an error. Returns the
// actual http status code.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (c Client) RawPost(path string, body interface{}, result interface{}) (int, error) {
	status, _, err := c.RawPostWithHeader(path, nil, body, result)
	return status, err
}

// RawPostWithHeader posts a resource to path. Expects http.StatusCreated or
// http.StatusOK as response, otherwise it will flag an error. Returns the
// actual http status code and the response header.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (c Client) RawPostWithHeader(path string, header map[string]string, body interface{}, result interface{}) (int, http.Header, error) {
	var err error
	j, ok := body.([]byte)
	if !ok {
		j, err = json.Marshal(body)
		if err != nil {
			return http.StatusBadRequest, nil, fmt.Errorf("POST to %s: %w", path, err)
		}
	}

	r, _ := http.NewRequestWithContext(c.Context(), http.MethodPost, c.url+path, bytes.NewBuffer(j))
	for key, value := range c.defaultHeaders {
		r.Header.Add(key, value)
	}
	for key, value := range header {
		r.Header.Add(key, value)
	}

	status, resHeader, resBody, err := c.do(r)
	if err != nil {
		return status, resHeader, err
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return status, resHeader, fmt.Errorf("handler returned wrong status code: got %v want %v. Error: %s",
			status, http.StatusCreated, strings.TrimSpace(string(resBody)))
	}

	if resBody != nil && result != nil {
		if raw, ok := result.(*[]byte); ok {
			*raw = resBody
		} else {
			err = json.Unmarshal(resBody, result)
		}
	}
	return status, resHeader, err
}

// RawPut puts a resource to path. Expects http.StatusOK as response,
// otherwise it will flag an error. Returns the actual http status code.
//
// In case of http.StatusConflict, the error body has been returned as
// result.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (c Client) RawPut(path string, body interface{}, result interface{}) (int, error) {
	var err error
	j, ok := body.([]byte)
	if !ok {
		j, err = json.Marshal(body)
		if err != nil {
			return http.StatusBadRequest, fmt.Errorf("PUT to %s: %w", path, err)
		}
	}

	r, _ := http.NewRequestWithContext(c.Context(), http.MethodPut, c.url+path, bytes.NewBuffer(j))
	for key, value := range c.defaultHeaders {
		r.Header.Add(key, value)
	}

	status, _, resBody, err := c.do(r)
	if err != nil {
		return status, err
	}
	// we do not return just yet in case of http.StatusConflict to be able
	// to return the conflict body
	if status != http.StatusOK && status != http.StatusConflict {
		return status, fmt.Errorf("put got status=%d body=%s", status, strings.TrimSpace(string(resBody)))
	}
	if resBody != nil && result != nil {
		if raw, ok := result.(*[]byte); ok {
			*raw = resBody
		} else {
			err = json.Unmarshal(resBody, result)
		}
	}
	if status == http.StatusConflict {
		return status, fmt.Errorf("conflict while writing to path:'%s', wanted to write %s, conflict: %s",
			path, string(j), string(resBody))
	}
	return status, err
}

// RawPutBlob puts a binary resource to path. Expects http.StatusOK as
// response, otherwise it will flag an error. Returns the actual http
// status code.
//
// result can be nil.
func (c Client) RawPutBlob(path string, header map[string]string, blob []byte, result interface{}) (int, error) {
	r, _ := http.NewRequestWithContext(c.Context(), http.MethodPut, c.url+path, bytes.NewBuffer(blob))
	for key, value := range c.defaultHeaders {
		r.Header.Add(key, value)
	}
	for key, value := range header {
		r.Header.Add(key, value)
	}

	status, _, resBody, err := c.do(r)
	if err != nil {
		return status, err
	}
	if status != http.StatusOK {
		return status, errors.New(strings.TrimSpace(string(resBody)))
	}
	if resBody != nil && result != nil {
		err = json.Unmarshal(resBody, result)
	}
	return status, err
}

// RawDelete deletes the resource at path. Expects http.StatusOK as
// response, otherwise it will flag an error. Returns the actual http
// status code.
func (c Client) RawDelete(path string) (int, error) {
	r, _ := http.NewRequestWithContext(c.Context(), http.MethodDelete, c.url+path, nil)
	for key, value := range c.defaultHeaders {
		r.Header.Add(key, value)
	}

	status, _, resBody, err := c.do(r)
	if err != nil {
		return status, err
	}
	if status != http.StatusOK {
		return status, errors.New(strings.TrimSpace(string(resBody)))
	}
	return status, nil
}

// do executes the request, through the router or over the wire.
func (c Client) do(r *http.Request) (int, http.Header, []byte, error) {
	if c.token != "" {
		r.Header.Add("Authorization", "Bearer "+c.token)
	}
	if c.router != nil {
		rec := httptest.NewRecorder()
		c.router.ServeHTTP(rec, r)
		res := rec.Result()
		return res.StatusCode, res.Header, rec.Body.Bytes(), nil
	}
	res, err := c.httpClient.Do(r)
	if err != nil {
		return http.StatusInternalServerError, nil, nil, err
	}
	defer res.Body.Close()
	resBody, _ := io.ReadAll(res.Body)
	return res.StatusCode, res.Header, resBody, nil
}
