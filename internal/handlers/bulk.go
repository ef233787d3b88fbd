package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// bulkPayload accepts either a bare JSON array of items or an object that
// wraps the items and optionally names the user to import them for.
type bulkPayload[T any] struct {
	Items          []T        `json:"items"`
	AssignedUserID *uuid.UUID `json:"assignedUserId"`
}

func parseBulk[T any](c *fiber.Ctx) (*bulkPayload[T], error) {
	body := bytes.TrimSpace(c.Body())
	if len(body) == 0 {
		return nil, errors.New("request body is empty")
	}

	var payload bulkPayload[T]
	if body[0] == '[' {
		if err := json.Unmarshal(body, &payload.Items); err != nil {
			return nil, err
		}
		return &payload, nil
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// assignedFromForm reads assignedUserId from a multipart form field.
func assignedFromForm(c *fiber.Ctx) (*uuid.UUID, error) {
	raw := strings.TrimSpace(c.FormValue("assignedUserId"))
	if raw == "" {
		return nil, nil
	}
	id, err := parseUUID(raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
