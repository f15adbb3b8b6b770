// Package model holds the data types shared across the deployment
// pipeline: deployments, component requests, recipes, and the resolved
// component set the dependency resolver produces.
package model

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/greengrass-lite/ggdeploymentd/internal/ggerr"
)

var validate = validator.New()

// Type distinguishes where a deployment originated.
type Type string

const (
	Local      Type = "LOCAL"
	ThingGroup Type = "THING_GROUP"
)

// State tracks a deployment's position in the queue lifecycle.
type State string

const (
	Queued     State = "QUEUED"
	InProgress State = "IN_PROGRESS"
)

// LocalDeploymentsGroup is the synthetic thing-group name used for
// deployments issued from the local CLI/IPC path rather than the cloud.
const LocalDeploymentsGroup = "LOCAL_DEPLOYMENTS"

// ConfigurationUpdate carries a component's configuration reset/merge pair
//. Reset runs before Merge; either may be empty.
type ConfigurationUpdate struct {
	Reset []string               `json:"reset,omitempty"`
	Merge map[string]interface{} `json:"merge,omitempty"`
}

// ComponentRequest is one entry of a Deployment's Components map: a target
// version plus an optional configuration update.
type ComponentRequest struct {
	Version              string               `json:"version" validate:"required"`
	ConfigurationUpdate  *ConfigurationUpdate `json:"configurationUpdate,omitempty"`
}

// Deployment is a request to converge the device on a set of component
// versions.
type Deployment struct {
	DeploymentID            string                      `json:"deploymentId"`
	Type                    Type                        `json:"-"`
	RecipeDirectoryPath     string                      `json:"recipeDirectoryPath,omitempty"`
	ArtifactsDirectoryPath  string                      `json:"artifactsDirectoryPath,omitempty"`
	Components              map[string]ComponentRequest `json:"components"`
	ConfigurationArn        string                      `json:"configurationArn,omitempty"`
	ThingGroup               string                     `json:"thingGroup,omitempty"`
	State                    State                      `json:"-"`
}

// Clone deep-copies a Deployment so a queue slot and a caller's own copy
// never alias mutable state. Grounded on deep_copy_deployment's field list
// (deployment_id, recipe/artifacts paths, components map, configuration_arn,
// thing_group) in the original deployment_queue.c — a growable owned copy
// replaces the arena-backed copy there.
func (d *Deployment) Clone() *Deployment {
	if d == nil {
		return nil
	}
	out := *d
	out.Components = make(map[string]ComponentRequest, len(d.Components))
	for name, req := range d.Components {
		out.Components[name] = req.clone()
	}
	return &out
}

func (c ComponentRequest) clone() ComponentRequest {
	out := c
	if c.ConfigurationUpdate != nil {
		cu := *c.ConfigurationUpdate
		if c.ConfigurationUpdate.Reset != nil {
			cu.Reset = append([]string(nil), c.ConfigurationUpdate.Reset...)
		}
		if c.ConfigurationUpdate.Merge != nil {
			merged, _ := cloneJSONValue(c.ConfigurationUpdate.Merge).(map[string]interface{})
			cu.Merge = merged
		}
		out.ConfigurationUpdate = &cu
	}
	return out
}

func cloneJSONValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = cloneJSONValue(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = cloneJSONValue(val)
		}
		return out
	default:
		return v
	}
}

// ArnThingGroup returns the substring of arn between the final "/" and the
// final ":", matching get_slash_and_colon_locations_from_arn in
// deployment_queue.c.
func ArnThingGroup(arn string) string {
	lastColon := -1
	slash := -1
	for i := len(arn) - 1; i >= 0; i-- {
		switch arn[i] {
		case ':':
			if lastColon == -1 {
				lastColon = i
			}
		case '/':
			slash = i
		}
		if slash != -1 && lastColon != -1 {
			break
		}
	}
	if slash == -1 || lastColon <= slash {
		return ""
	}
	return arn[slash+1 : lastColon]
}

// NewDeploymentID generates a fresh deployment identifier.
func NewDeploymentID() string {
	return uuid.NewString()
}

// ParseRequest is the wire shape accepted by enqueue: the caller-supplied
// document before thing-group/configuration-arn derivation and before a
// missing deployment_id is filled in.
type ParseRequest struct {
	DeploymentID           string                      `json:"deploymentId,omitempty"`
	RecipeDirectoryPath    string                      `json:"recipe_directory_path,omitempty"`
	ArtifactsDirectoryPath string                      `json:"artifacts_directory_path,omitempty"`
	Components             map[string]ComponentRequest `json:"components,omitempty" validate:"dive"`
	ConfigurationArn       string                      `json:"configurationArn,omitempty"`
}

// ParseDeploymentDoc builds a Deployment from a raw document for the given
// type, assigning a UUID when the document omits deployment_id and, for
// THING_GROUP deployments, deriving thing_group from configuration_arn
// (deployment_queue.c's parse_deployment_obj).
func ParseDeploymentDoc(raw json.RawMessage, t Type) (*Deployment, error) {
	var req ParseRequest
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, err
		}
	}

	d := &Deployment{
		DeploymentID:           req.DeploymentID,
		Type:                   t,
		RecipeDirectoryPath:    req.RecipeDirectoryPath,
		ArtifactsDirectoryPath: req.ArtifactsDirectoryPath,
		Components:             req.Components,
		State:                  Queued,
	}
	if d.DeploymentID == "" {
		d.DeploymentID = NewDeploymentID()
	}
	if d.Components == nil {
		d.Components = make(map[string]ComponentRequest)
	}

	switch t {
	case Local:
		d.ThingGroup = LocalDeploymentsGroup
		d.ConfigurationArn = d.DeploymentID
	case ThingGroup:
		d.ConfigurationArn = req.ConfigurationArn
		if d.ConfigurationArn != "" {
			d.ThingGroup = ArnThingGroup(d.ConfigurationArn)
		}
	}

	if err := validate.Struct(&req); err != nil {
		return nil, ggerr.Wrap(ggerr.Invalid, "validate deployment request", err)
	}

	return d, nil
}
