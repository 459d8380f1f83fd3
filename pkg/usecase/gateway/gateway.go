package gateway

import (
	"strings"

	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/burrow/pkg/repository"
	"github.com/m-mizutani/goerr/v2"
)

// UseCase provides generic document operations over named collections
type UseCase struct {
	repo repository.Repository
}

// Option is a functional option for UseCase
type Option func(*UseCase)

// New creates a new gateway UseCase instance
func New(repo repository.Repository, opts ...Option) *UseCase {
	uc := &UseCase{
		repo: repo,
	}

	for _, opt := range opts {
		opt(uc)
	}

	return uc
}

// ValidateCollection checks that name can address a collection
func ValidateCollection(name string) error {
	switch {
	case name == "":
		return goerr.Wrap(model.ErrInvalidRequest, "collection name is required")
	case strings.HasPrefix(name, "$"):
		return goerr.Wrap(model.ErrInvalidRequest, "collection name must not start with $", goerr.V("collection", name))
	case strings.ContainsAny(name, "/\x00"):
		return goerr.Wrap(model.ErrInvalidRequest, "collection name contains a forbidden character", goerr.V("collection", name))
	}
	return nil
}
