package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Seed is the bootstrap directory of organizations and actors.
//
//	[[organization]]
//	id = "org_001"
//	display_name = "Acme Holdings"
//	members = ["analyst-1", "cco-1"]
//
//	[[actor]]
//	id = "analyst-1"
//	role = "ANALYST"
//	home_tenant = "org_001"
//	secret_hash = "$2a$12$..."
type Seed struct {
	Organizations []SeedOrganization `toml:"organization"`
	Actors        []SeedActor        `toml:"actor"`
}

type SeedOrganization struct {
	ID          string   `toml:"id"`
	DisplayName string   `toml:"display_name"`
	TaxID       string   `toml:"tax_id"`
	Members     []string `toml:"members"`
}

type SeedActor struct {
	ID          string `toml:"id"`
	DisplayName string `toml:"display_name"`
	Role        string `toml:"role"`
	HomeTenant  string `toml:"home_tenant"`
	// SecretHash is a bcrypt or argon2id encoded hash.
	SecretHash string `toml:"secret_hash"`
	// TOTPSecret enrols the actor in a second factor when set.
	TOTPSecret         string     `toml:"totp_secret"`
	RegulatorExpiresAt *time.Time `toml:"regulator_expires_at"`
}

// LoadSeed decodes the TOML file at path. Unknown keys are rejected so a
// typo cannot silently drop an actor's second factor.
func LoadSeed(path string) (Seed, error) {
	var seed Seed
	md, err := toml.DecodeFile(path, &seed)
	if err != nil {
		return Seed{}, fmt.Errorf("config: seed %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Seed{}, fmt.Errorf("config: seed %s: unknown keys %v", path, undecoded)
	}
	if err := seed.Validate(); err != nil {
		return Seed{}, fmt.Errorf("config: seed %s: %w", path, err)
	}
	return seed, nil
}

func (s Seed) Validate() error {
	orgs := map[string]bool{}
	for i, o := range s.Organizations {
		if o.ID == "" || o.DisplayName == "" {
			return fmt.Errorf("organization[%d]: id and display_name are required", i)
		}
		if orgs[o.ID] {
			return fmt.Errorf("organization %s: duplicate id", o.ID)
		}
		orgs[o.ID] = true
	}
	actors := map[string]bool{}
	for i, a := range s.Actors {
		if a.ID == "" || a.Role == "" || a.SecretHash == "" {
			return fmt.Errorf("actor[%d]: id, role and secret_hash are required", i)
		}
		if actors[a.ID] {
			return fmt.Errorf("actor %s: duplicate id", a.ID)
		}
		actors[a.ID] = true
		if a.Role == "REGULATOR" && a.RegulatorExpiresAt == nil {
			return fmt.Errorf("actor %s: regulator_expires_at is required for regulators", a.ID)
		}
		if a.HomeTenant != "" && !orgs[a.HomeTenant] {
			return fmt.Errorf("actor %s: unknown home_tenant %s", a.ID, a.HomeTenant)
		}
	}
	for _, o := range s.Organizations {
		for _, m := range o.Members {
			if !actors[m] {
				return fmt.Errorf("organization %s: unknown member %s", o.ID, m)
			}
		}
	}
	return nil
}
