package mcp

import "github.com/mark3labs/mcp-go/mcp"

var listToolDef = mcp.NewTool("record_list",
	mcp.WithDescription("List staged inquiry records, newest first. Filter by state (unprocessed, processed, manual) and category."),
	mcp.WithString("state", mcp.Description("Only records in this state"), mcp.Enum("unprocessed", "processed", "manual")),
	mcp.WithString("category", mcp.Description("Only records of this category (workbook sheet name)")),
	mcp.WithNumber("limit", mcp.Description("Page size, default 20, max 100")),
	mcp.WithNumber("offset", mcp.Description("Records to skip")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var showToolDef = mcp.NewTool("record_show",
	mcp.WithDescription("Show one record by ULID or 64-character fingerprint, including recipients recovered from its snapshot."),
	mcp.WithString("ref", mcp.Required(), mcp.Description("Record ULID or fingerprint")),
	mcp.WithBoolean("include_html", mcp.Description("Include the rendered reply HTML")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var resetToolDef = mcp.NewTool("record_reset",
	mcp.WithDescription("Move a record back to unprocessed so the next confirm run can send it again."),
	mcp.WithString("ref", mcp.Required(), mcp.Description("Record ULID or fingerprint")),
	mcp.WithDestructiveHintAnnotation(false),
	mcp.WithIdempotentHintAnnotation(true),
)

var purgeToolDef = mcp.NewTool("record_purge",
	mcp.WithDescription("Permanently delete records created more than older_than_days days ago."),
	mcp.WithNumber("older_than_days", mcp.Required(), mcp.Description("Minimum age in days, at least 1")),
	mcp.WithString("state", mcp.Description("Only purge records in this state"), mcp.Enum("unprocessed", "processed", "manual")),
	mcp.WithDestructiveHintAnnotation(true),
)

var reportToolDef = mcp.NewTool("report",
	mcp.WithDescription("Count records by state and list replies sent since a point in time (default: local midnight)."),
	mcp.WithString("since", mcp.Description("Window start as YYYY-MM-DD or RFC 3339")),
	mcp.WithReadOnlyHintAnnotation(true),
)
