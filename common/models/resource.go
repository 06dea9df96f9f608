package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

type Resource interface {
	// GetKind returns the unique name/type of the resource e.g. "blob" or "file".
	GetKind() ResourceKind
	// GetCreatedAt returns the Time at which this resource was created.
	GetCreatedAt() Time
	// GetID returns the globally unique ResourceID of the resource.
	GetID() ResourceID
	// Validate the model by checking for required fields, lengths and types etc.
	Validate() error
}

type MutableResource interface {
	Resource
	GetETag() ETag
	SetETag(eTag ETag)
	GetUpdatedAt() Time
	SetUpdatedAt(t Time)
}

type ResourceKind string

func (s ResourceKind) String() string {
	return string(s)
}

func (s *ResourceKind) Scan(src interface{}) error {
	if src == nil {
		*s = ""
		return nil
	}
	t, ok := src.(string)
	if !ok {
		return fmt.Errorf("error expected string: %#v", src)
	}
	*s = ResourceKind(t)
	return nil
}

func (s ResourceKind) Value() (driver.Value, error) {
	return string(s), nil
}

// ResourceID is a globally unique identifier of the form "kind:uuid".
type ResourceID string

func NewResourceID(kind ResourceKind) ResourceID {
	return ResourceID(fmt.Sprintf("%s:%s", kind, uuid.NewString()))
}

// ParseResourceID validates that str is a well-formed resource id of the
// specified kind and returns it.
func ParseResourceID(kind ResourceKind, str string) (ResourceID, error) {
	parts := strings.SplitN(str, ":", 2)
	if len(parts) != 2 || parts[0] != kind.String() {
		return "", errors.Errorf("error invalid %s id: %q", kind, str)
	}
	if _, err := uuid.Parse(parts[1]); err != nil {
		return "", errors.Wrapf(err, "error invalid %s id: %q", kind, str)
	}
	return ResourceID(str), nil
}

func (i ResourceID) String() string {
	return string(i)
}

func (i ResourceID) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(i))
}

func (i *ResourceID) UnmarshalJSON(data []byte) error {
	var str string
	err := json.Unmarshal(data, &str)
	if err != nil {
		return err
	}
	*i = ResourceID(str)
	return nil
}

func (i ResourceID) Valid() bool {
	return i != ""
}

// Kind returns the resource kind portion of the id, or empty if the id is malformed.
func (i ResourceID) Kind() ResourceKind {
	parts := strings.SplitN(string(i), ":", 2)
	if len(parts) != 2 {
		return ""
	}
	return ResourceKind(parts[0])
}

func (i *ResourceID) Scan(src interface{}) error {
	if src == nil {
		*i = ""
		return nil
	}
	t, ok := src.(string)
	if !ok {
		return fmt.Errorf("error expected string: %#v", src)
	}
	*i = ResourceID(t)
	return nil
}

func (i ResourceID) Value() (driver.Value, error) {
	return string(i), nil
}

// ETag identifies a specific version of a mutable resource, used for
// optimistic locking on update.
type ETag string

// ETagAny matches any version of a resource, disabling the optimistic lock check.
const ETagAny ETag = "*"

func (e ETag) String() string {
	return string(e)
}

func (e *ETag) Scan(src interface{}) error {
	if src == nil {
		*e = ""
		return nil
	}
	t, ok := src.(string)
	if !ok {
		return fmt.Errorf("error expected string: %#v", src)
	}
	*e = ETag(t)
	return nil
}

func (e ETag) Value() (driver.Value, error) {
	return string(e), nil
}

func validateResourceID(result *multierror.Error, id ResourceID, kind ResourceKind) *multierror.Error {
	if !id.Valid() {
		return multierror.Append(result, errors.New("error id must be set"))
	}
	if id.Kind() != kind {
		return multierror.Append(result, errors.Errorf("error id must be of kind %q", kind))
	}
	return result
}
