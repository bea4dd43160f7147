package dto

// Response is the envelope every identity endpoint returns. StatusCode always
// equals the HTTP status of the response.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Data       any    `json:"data"`
}

const (
	MsgEnrolled     = "Face enrolled successfully"
	MsgMatched      = "Face matched successfully"
	MsgUpdated      = "Face updated successfully"
	MsgDeleted      = "Face deleted successfully"
	MsgDeletedAll   = "All faces have been deleted successfully"
	MsgDuplicate    = "Face already exists in the database"
	MsgNoMatch      = "No matching face found"
	MsgNoFace       = "No face detected"
	MsgInvalidImage = "Invalid image file"
	MsgFileRequired = "file is required"
	MsgFaceIDNeeded = "face_id is required"
	MsgNotFound     = "face_id not found"
	MsgMismatch     = "face_id does not match the supplied face"
	MsgStoreDown    = "Identity store unavailable"
	MsgModelDown    = "Face recognition model not loaded"
	MsgInternal     = "Internal server error"
	MsgFileTooLarge = "file exceeds the upload size limit"
)

// FaceIDData is returned by enroll and update.
type FaceIDData struct {
	FaceID string `json:"face_id"`
}

// DuplicateData carries the similarity of the existing identity that blocked
// an enrollment.
type DuplicateData struct {
	Distance float32 `json:"distance"`
}

// CheckInData is returned by check-in. On a miss FaceID is empty and
// Similarity, when present, is the score of the nearest stored face.
type CheckInData struct {
	Matched    bool     `json:"matched"`
	FaceID     string   `json:"face_id,omitempty"`
	Similarity *float32 `json:"similarity,omitempty"`
}
