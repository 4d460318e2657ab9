package video

import (
	"fmt"
)

// MultipartBoundary separates parts of an MJPEG stream
const MultipartBoundary = "frame"

// MultipartContentType is the response content type for MJPEG streams
const MultipartContentType = "multipart/x-mixed-replace; boundary=" + MultipartBoundary

// MultipartPart wraps a JPEG payload as one self-delimited part:
//
//	--frame\r\n
//	Content-Type: image/jpeg\r\n
//	Content-Length: N\r\n
//	\r\n
//	<jpeg>\r\n
func MultipartPart(jpegData []byte) []byte {
	header := fmt.Sprintf("--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", MultipartBoundary, len(jpegData))
	part := make([]byte, 0, len(header)+len(jpegData)+2)
	part = append(part, header...)
	part = append(part, jpegData...)
	part = append(part, '\r', '\n')
	return part
}
