package handlers

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/noteduco342/om-channels/internal/apperr"
	"github.com/noteduco342/om-channels/internal/httpx"
)

func paramID(c *fiber.Ctx, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Params(name), 10, 32)
	if err != nil || id == 0 {
		return 0, apperr.InvalidArg("invalid " + name)
	}
	return uint(id), nil
}

// queryPosition reads an optional position cursor; missing means 0.
func queryPosition(c *fiber.Ctx, name string) (uint64, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, apperr.InvalidArg("invalid " + name)
	}
	return v, nil
}

// queryCount reads an optional page size; missing means 0 and the service
// applies its default.
func queryCount(c *fiber.Ctx, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, apperr.InvalidArg("invalid " + name)
	}
	return v, nil
}

// ParseChannelIDs parses a comma separated list of channel ids.
func ParseChannelIDs(raw string) ([]uint, error) {
	var ids []uint
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseUint(part, 10, 32)
		if err != nil || id == 0 {
			return nil, apperr.InvalidArg("invalid channel id " + strconv.Quote(part))
		}
		ids = append(ids, uint(id))
	}
	return ids, nil
}

func currentUser(c *fiber.Ctx) (string, error) {
	userID, err := httpx.LocalString(c, "userID")
	if err != nil {
		return "", apperr.Unauthenticated("Unauthorized")
	}
	return userID, nil
}
