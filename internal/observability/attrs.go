package observability

import "go.opentelemetry.io/otel/attribute"

// attrTelegramMode records how the bot receives updates.
const attrTelegramMode = attribute.Key("ideabot.telegram.mode")
