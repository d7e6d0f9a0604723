// Package testmodels holds the gorm models and seed data shared by tests,
// benchmarks and the development server.
package testmodels

import (
	"gorm.io/gorm"

	"github.com/sukryu/gorm-oso/pkg/binding"
)

type Organization struct {
	ID        int64 `gorm:"primaryKey"`
	Name      string
	Documents []Document
}

func (Organization) TableName() string { return "organization" }

type Document struct {
	ID             int64 `gorm:"primaryKey"`
	OrganizationID int64
	Organization   Organization
	TeamID         int64
	Status         string
	IsPublic       bool
	Content        string
}

func (Document) TableName() string { return "document" }

type Agent struct {
	ID   int64 `gorm:"primaryKey"`
	Name string
}

func (Agent) TableName() string { return "agent" }

type AgentOrganizationRole struct {
	ID             int64 `gorm:"primaryKey"`
	AgentID        int64
	Agent          Agent
	OrganizationID int64
	Organization   Organization
	Role           string
}

func (AgentOrganizationRole) TableName() string { return "agent_organization_role" }

// Registry declares the authorization bindings of the models above.
func Registry() *binding.Registry {
	return binding.NewRegistry(
		binding.Resource(&Organization{}),
		binding.Resource(&Document{},
			binding.Relation("Organization"),
			binding.RemoteRelation("TeamID", "Team"),
			binding.Attribute("Status"),
			binding.Attribute("IsPublic"),
		),
		binding.Resource(&Agent{}),
		binding.RoleMapping(&AgentOrganizationRole{},
			binding.ActorColumn("AgentID"),
			binding.RoleColumn("Role"),
			binding.ResourceColumn("OrganizationID"),
		),
	)
}

// Seed creates the schema and the fixture rows:
//
//	organizations 1, 2, 3
//	documents 1 (org 1, team 111), 2 (org 2, team 111), 3 (org 3, team 222, public)
//	agents 1 (alice), 2 (bob)
//	alice is admin of org 1, bob is admin of org 2
func Seed(db *gorm.DB) error {
	if err := db.AutoMigrate(&Organization{}, &Document{}, &Agent{}, &AgentOrganizationRole{}); err != nil {
		return err
	}
	return db.Transaction(func(tx *gorm.DB) error {
		orgs := []Organization{{ID: 1, Name: "Org 1"}, {ID: 2, Name: "Org 2"}, {ID: 3, Name: "Org 3"}}
		if err := tx.Create(&orgs).Error; err != nil {
			return err
		}
		docs := []Document{
			{ID: 1, OrganizationID: 1, TeamID: 111, Status: "draft", Content: "one"},
			{ID: 2, OrganizationID: 2, TeamID: 111, Status: "published", Content: "two"},
			{ID: 3, OrganizationID: 3, TeamID: 222, Status: "published", IsPublic: true, Content: "three"},
		}
		if err := tx.Omit("Organization").Create(&docs).Error; err != nil {
			return err
		}
		agents := []Agent{{ID: 1, Name: "alice"}, {ID: 2, Name: "bob"}}
		if err := tx.Create(&agents).Error; err != nil {
			return err
		}
		roles := []AgentOrganizationRole{
			{ID: 1, AgentID: 1, OrganizationID: 1, Role: "admin"},
			{ID: 2, AgentID: 2, OrganizationID: 2, Role: "admin"},
		}
		return tx.Omit("Agent", "Organization").Create(&roles).Error
	})
}
