package server

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atriumhq/atrium/pkg/config"
	"github.com/atriumhq/atrium/pkg/registry"
)

const protocolVersion = "1.0"

// agentCard is the discovery descriptor served at the well-known paths,
// for the service as a whole and for each agent.
type agentCard struct {
	Name            string      `json:"name"`
	Description     string      `json:"description"`
	ProtocolVersion string      `json:"protocolVersion"`
	Version         string      `json:"version"`
	URL             string      `json:"url"`
	Skills          []cardSkill `json:"skills"`
}

type cardSkill struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// handleServiceCard advertises every discoverable agent as a skill, plus
// one skill per declared capability with the "<agentId>:<capabilityId>"
// id form.
func (s *Server) handleServiceCard(w http.ResponseWriter, r *http.Request) {
	skills := make([]cardSkill, 0)
	for _, summary := range s.registry.List() {
		cfg, err := s.registry.GetConfig(summary.Path)
		if err != nil || !cfg.Discoverable() {
			continue
		}
		skills = append(skills, cardSkill{
			ID:          cfg.ID,
			Name:        cfg.Name,
			Description: cfg.Description,
		})
		skills = append(skills, capabilitySkills(cfg, cfg.ID+":")...)
	}

	writeJSON(w, http.StatusOK, agentCard{
		Name:            s.cfg.Observability.ServiceName,
		Description:     "Agent hosting service",
		ProtocolVersion: protocolVersion,
		Version:         s.version,
		URL:             s.baseURL(),
		Skills:          skills,
	})
}

// handleAgentCard serves one agent's card. Its skills are the agent's
// bare capability ids. Agents opted out of discovery read as absent.
func (s *Server) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "path")
	cfg, err := s.registry.GetConfig(path)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !cfg.Discoverable() {
		writeError(w, r, &registry.Error{
			Code:    registry.CodeAgentNotFound,
			Message: fmt.Sprintf("agent not found: %s", path),
		})
		return
	}

	writeJSON(w, http.StatusOK, agentCard{
		Name:            cfg.Name,
		Description:     cfg.Description,
		ProtocolVersion: protocolVersion,
		Version:         s.version,
		URL:             s.baseURL() + "/agents/" + cfg.Path,
		Skills:          capabilitySkills(cfg, ""),
	})
}

func capabilitySkills(cfg *config.AgentConfig, idPrefix string) []cardSkill {
	if cfg.Discovery == nil {
		return []cardSkill{}
	}
	skills := make([]cardSkill, 0, len(cfg.Discovery.Capabilities))
	for _, capability := range cfg.Discovery.Capabilities {
		skills = append(skills, cardSkill{
			ID:          idPrefix + capability.ID,
			Name:        capability.Name,
			Description: capability.Description,
		})
	}
	return skills
}

// baseURL is the advertised root, falling back to the listen address
// when no public base URL is configured.
func (s *Server) baseURL() string {
	if url := s.cfg.PublicURL(); url != "" {
		return url
	}
	return "http://" + s.cfg.ListenAddr()
}
