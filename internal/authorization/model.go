// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package authorization

import (
	"encoding/json"
	"fmt"

	fga "github.com/openfga/go-sdk"
	"github.com/openfga/language/pkg/go/transformer"
)

var models = map[string]string{
	"v0": `model
  schema 1.1

type user

type organization
  relations
    define admin: [user]
    define can_manage: admin
`,
}

type AuthorizationModelProvider struct {
	version string
}

// GetModel parses the DSL of the provider version. The models are static so a
// parse failure is a programming error.
func (p *AuthorizationModelProvider) GetModel() *fga.AuthorizationModel {
	model, err := p.parse()
	if err != nil {
		panic(err)
	}
	return model
}

func (p *AuthorizationModelProvider) parse() (*fga.AuthorizationModel, error) {
	dsl, ok := models[p.version]
	if !ok {
		return nil, fmt.Errorf("unknown authorization model version %s", p.version)
	}

	raw, err := transformer.TransformDSLToJSON(dsl)
	if err != nil {
		return nil, fmt.Errorf("failed to parse authorization model %s: %w", p.version, err)
	}

	model := new(fga.AuthorizationModel)
	if err := json.Unmarshal([]byte(raw), model); err != nil {
		return nil, fmt.Errorf("failed to decode authorization model %s: %w", p.version, err)
	}

	return model, nil
}

func NewAuthorizationModelProvider(version string) *AuthorizationModelProvider {
	p := new(AuthorizationModelProvider)
	p.version = version
	return p
}
