package utils

import "github.com/gofiber/fiber/v2"

// APIResponse is the envelope shared by every REST endpoint. Socket frames
// use their own envelope; only HTTP responses carry this shape.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message"`
}

// SendSuccess sends a 200 response with the default message fallback.
func SendSuccess(c *fiber.Ctx, message string, data interface{}) error {
	return SendSuccessWithStatus(c, fiber.StatusOK, message, data)
}

// SendSuccessWithStatus sends a success payload with an explicit status code.
func SendSuccessWithStatus(c *fiber.Ctx, status int, message string, data interface{}) error {
	if status == 0 {
		status = fiber.StatusOK
	}
	return respond(c, status, APIResponse{Success: true, Message: message, Data: data})
}

// SendError sends a failure envelope; data is always omitted on errors.
func SendError(c *fiber.Ctx, status int, message string) error {
	if message == "" {
		message = "error"
	}
	return respond(c, status, APIResponse{Success: false, Message: message})
}

func respond(c *fiber.Ctx, status int, payload APIResponse) error {
	if payload.Message == "" {
		payload.Message = "success"
	}
	return c.Status(status).JSON(payload)
}
