package enums

type AuditAction string

const (
	AuditActionUserCreated          AuditAction = "USER_CREATED"
	AuditActionLevelChanged         AuditAction = "LEVEL_CHANGED"
	AuditActionMessageSubmitted     AuditAction = "MESSAGE_SUBMITTED"
	AuditActionMessageApproved      AuditAction = "MESSAGE_APPROVED"
	AuditActionMessageRejected      AuditAction = "MESSAGE_REJECTED"
	AuditActionMessageExpired       AuditAction = "MESSAGE_EXPIRED"
	AuditActionPunishmentImposed    AuditAction = "PUNISHMENT_IMPOSED"
	AuditActionPunishmentSuperseded AuditAction = "PUNISHMENT_SUPERSEDED"
	AuditActionPunishmentRevoked    AuditAction = "PUNISHMENT_REVOKED"
	AuditActionPunishmentExpired    AuditAction = "PUNISHMENT_EXPIRED"
	AuditActionPunishmentEscalated  AuditAction = "PUNISHMENT_ESCALATED"
)
