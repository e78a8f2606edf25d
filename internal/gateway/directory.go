package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/yourorg/compliance-ledger/internal/config"
	"github.com/yourorg/compliance-ledger/internal/domain"
	"github.com/yourorg/compliance-ledger/internal/tenant"
)

// Credential is what the gateway knows about an actor that may log in.
type Credential struct {
	Actor      domain.Actor
	SecretHash string
	// TOTPSecret enrols the actor in a second factor when set.
	TOTPSecret string
	HomeTenant string
}

// Directory is the in-process set of credentials. It is replaced wholesale
// when the seed changes.
type Directory struct {
	mu    sync.RWMutex
	creds map[string]Credential
}

func NewDirectory() *Directory {
	return &Directory{creds: map[string]Credential{}}
}

func (d *Directory) Put(c Credential) {
	d.mu.Lock()
	d.creds[c.Actor.ID] = c
	d.mu.Unlock()
}

func (d *Directory) Lookup(actorID string) (Credential, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.creds[actorID]
	return c, ok
}

func (d *Directory) Replace(creds []Credential) {
	next := make(map[string]Credential, len(creds))
	for _, c := range creds {
		next[c.Actor.ID] = c
	}
	d.mu.Lock()
	d.creds = next
	d.mu.Unlock()
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.creds)
}

// ApplySeed creates missing organizations, grants memberships and replaces
// the credential directory. Existing organizations are left untouched, so
// applying the same seed twice records nothing new.
func ApplySeed(ctx context.Context, seed config.Seed, dir *Directory, reg *tenant.Registry) error {
	creds := make([]Credential, 0, len(seed.Actors))
	for _, a := range seed.Actors {
		role := domain.Role(strings.ToUpper(a.Role))
		if !role.Valid() {
			return fmt.Errorf("gateway: seed actor %s: unknown role %q", a.ID, a.Role)
		}
		name := a.DisplayName
		if name == "" {
			name = a.ID
		}
		creds = append(creds, Credential{
			Actor: domain.Actor{
				ID:                 a.ID,
				DisplayName:        name,
				Role:               role,
				RegulatorExpiresAt: a.RegulatorExpiresAt,
			},
			SecretHash: a.SecretHash,
			TOTPSecret: a.TOTPSecret,
			HomeTenant: a.HomeTenant,
		})
	}

	for _, o := range seed.Organizations {
		_, err := reg.Get(ctx, o.ID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			if _, err := reg.CreateOrganization(ctx, domain.SystemActor, tenant.NewOrganization{
				ID: o.ID, DisplayName: o.DisplayName, TaxID: o.TaxID,
			}); err != nil {
				return fmt.Errorf("gateway: seed organization %s: %w", o.ID, err)
			}
		case err != nil:
			return fmt.Errorf("gateway: seed organization %s: %w", o.ID, err)
		}
		for _, m := range o.Members {
			if err := reg.AddMember(ctx, o.ID, m); err != nil {
				return fmt.Errorf("gateway: seed member %s/%s: %w", o.ID, m, err)
			}
		}
	}
	for _, c := range creds {
		if c.HomeTenant == "" {
			continue
		}
		if err := reg.AddMember(ctx, c.HomeTenant, c.Actor.ID); err != nil {
			return fmt.Errorf("gateway: seed home tenant %s/%s: %w", c.HomeTenant, c.Actor.ID, err)
		}
	}

	dir.Replace(creds)
	return nil
}
