package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/filedepot/filedepot/common/gerror"
	"github.com/filedepot/filedepot/common/logger"
	"github.com/filedepot/filedepot/common/models"
	"github.com/filedepot/filedepot/server/api/rest/documents"
)

type APIBase struct {
	logger.Log
}

func NewAPIBase(logger logger.Log) *APIBase {
	return &APIBase{
		Log: logger,
	}
}

// JSON marshals 'v' to JSON, automatically escaping HTML and setting the
// Content-Type as application/json. Copied from chi/render.JSON and updated
// to log serialization errors.
func (a *APIBase) JSON(w http.ResponseWriter, r *http.Request, v interface{}) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(true)
	if err := enc.Encode(v); err != nil {
		a.Error(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if status, ok := r.Context().Value(render.StatusCtxKey).(int); ok {
		w.WriteHeader(status)
	}
	a.Tracef("JSON Response: %s", buf.String())
	w.Write(buf.Bytes())
}

// Error writes the specified error to the http response as a standard
// API error document. Errors are sanitized for public display before
// being written. Status code is automatically inferred from the error.
// The error is logged to the server log at a Warning level.
func (a *APIBase) Error(w http.ResponseWriter, r *http.Request, err error) {
	a.Warnf("Error in API call: %v", err)
	a.ErrorNotLogged(w, r, err)
}

// ErrorNotLogged writes the specified error to the http response as a standard
// API error document. Errors are sanitized for public display before
// being written. Status code is automatically inferred from the error.
// The error is not logged to the server log.
func (a *APIBase) ErrorNotLogged(w http.ResponseWriter, r *http.Request, err error) {
	// Safety net for raw database errors that escaped the store layer.
	cause := errors.Cause(err)
	if cause == sql.ErrNoRows {
		err = gerror.NewErrNotFound("Resource not found")
	}
	pqErr, ok := cause.(*pq.Error)
	if ok {
		// https://www.postgresql.org/docs/current/static/errcodes-appendix.html
		if pqErr.Code == "23505" {
			err = gerror.NewErrAlreadyExists("Resource already exists").Wrap(err)
		}
	}

	// Look down through the chain of wrapped errors, including errors wrapped using fmt.Errorf(),
	// and find the first error which is a gerror.Error
	var gErr gerror.Error
	if !errors.As(err, &gErr) || gErr.Audience() != gerror.AudienceExternal {
		gErr = gerror.NewErrInternal()
	}
	doc := &documents.ErrorDocument{
		Code:           gErr.Code(),
		HTTPStatusCode: gErr.HTTPStatusCode(),
		Message:        gErr.Message(),
		Details:        make(map[gerror.DetailKey]interface{}),
	}
	for _, detail := range gErr.Details() {
		if detail.Audience() == gerror.AudienceExternal {
			doc.Details[detail.Key()] = detail.Value()
		}
	}
	r = r.WithContext(context.WithValue(r.Context(), render.StatusCtxKey, gErr.HTTPStatusCode()))
	a.JSON(w, r, doc)
}

// Created writes a standardized created response to the http response object.
// The ID and Location headers will be set if corresponding arguments are specified,
// and data (if set) will optionally be serialized to JSON and written in the response body.
func (a *APIBase) Created(w http.ResponseWriter, r *http.Request, id string, location string, data interface{}) {
	if id != "" {
		w.Header().Set("Id", id)
	}
	if location != "" {
		w.Header().Set("Location", location)
	}
	r = r.WithContext(context.WithValue(r.Context(), render.StatusCtxKey, http.StatusCreated))
	if data != nil {
		a.JSON(w, r, data)
	}
}

// GotResource writes a standardized resource response to the http response object and is intended to be
// used in response to a GET request.
func (a *APIBase) GotResource(w http.ResponseWriter, r *http.Request, resource documents.ResourceDocument) {
	r = r.WithContext(context.WithValue(r.Context(), render.StatusCtxKey, http.StatusOK))
	a.JSON(w, r, resource)
}

// CreatedResource writes a standardized resource created response to the http response object and is
// intended to be used in response to a POST request. If data is nil the resource document will be directly
// serialized to JSON and sent in the response body, otherwise data will be used.
func (a *APIBase) CreatedResource(w http.ResponseWriter, r *http.Request, resource documents.ResourceDocument, data interface{}) {
	var (
		id                         = resource.GetID().String()
		location                   = resource.GetLink()
		resourceOrData interface{} = resource
	)
	if data != nil {
		resourceOrData = data
	}
	a.Created(w, r, id, location, resourceOrData)
}

// FileID returns the file id from the url of the request. A malformed id
// results in a not found error, matching the behavior for an unknown one.
func (a *APIBase) FileID(r *http.Request) (models.FileID, error) {
	str := chi.URLParam(r, "file_id")
	id, err := models.ParseResourceID(models.FileResourceKind, str)
	if err != nil {
		return models.FileID{}, gerror.NewErrNotFound("Not Found").Wrap(err)
	}
	return models.FileIDFromResourceID(id), nil
}
