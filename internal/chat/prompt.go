package chat

// SystemInstruction is sent with every request.
const SystemInstruction = "You are an AI assistant for ALPHA TECH. CEO: Alonge Muhammed. " +
	"Services: Academic writing, Data Analysis, Web Dev, UI/UX, Cyber Security. " +
	"Location: Nigeria. Be professional, helpful, and concise."

// Scripted assistant replies.
const (
	EmptyReplyFallback = "I'm sorry, I couldn't process that."
	FailureFallback    = "Service temporarily unavailable. Please contact us directly!"
)
